// Package manifest implements the durable registry binding SSTable file
// names to the levels of the LSM tree. It is deliberately small: a level
// only needs to remember which files belong to it, since each SSTable's own
// footer and index carry everything else needed to read it.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomato-kv/tomatokv/internal/encoding"
)

// magic identifies a manifest file; version allows the on-disk schema to
// evolve without breaking readers of older manifests.
var magic = [4]byte{'T', 'M', 'K', 'V'}

const schemaVersion = 1

// FileMeta identifies a single SSTable file belonging to a level.
type FileMeta struct {
	FileName string
}

// ErrInvalidData indicates the manifest file is present but could not be
// parsed: a missing magic number, an unsupported schema version, or a
// truncated record.
var ErrInvalidData = errors.New("manifest: invalid data")

const fileName = "MANIFEST"
const tmpFileName = "MANIFEST.tmp"

// Manifest holds the per-level file lists and persists them to work_dir.
type Manifest struct {
	dir    string
	levels [][]FileMeta
}

// Open loads the manifest from dir, recovering from a crash between writing
// MANIFEST.tmp and renaming it over MANIFEST. maxLevel is the highest valid
// level index (levels 0..maxLevel inclusive).
func Open(dir string, maxLevel int) (*Manifest, error) {
	path := filepath.Join(dir, fileName)
	tmpPath := filepath.Join(dir, tmpFileName)

	_, manifestErr := os.Stat(path)
	_, tmpErr := os.Stat(tmpPath)

	switch {
	case manifestErr == nil && tmpErr == nil:
		// A tmp file left over from a write whose rename never completed,
		// or whose rename completed but the tmp wasn't cleaned up; either
		// way MANIFEST is the durable truth, so discard the tmp.
		if err := os.Remove(tmpPath); err != nil {
			return nil, fmt.Errorf("manifest: remove stale tmp: %w", err)
		}
	case manifestErr != nil && tmpErr == nil:
		// The rename never happened, but the tmp write completed: promote
		// it, since it is the only durable copy.
		if err := os.Rename(tmpPath, path); err != nil {
			return nil, fmt.Errorf("manifest: promote tmp: %w", err)
		}
	}

	m := &Manifest{dir: dir, levels: make([][]FileMeta, maxLevel+1)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	if err := m.decode(data); err != nil {
		return nil, err
	}
	return m, nil
}

// MaxLevel returns the highest valid level index.
func (m *Manifest) MaxLevel() int {
	return len(m.levels) - 1
}

// FileMetas returns the file list for level, or nil if level is out of
// range or empty.
func (m *Manifest) FileMetas(level int) []FileMeta {
	if level < 0 || level >= len(m.levels) {
		return nil
	}
	return m.levels[level]
}

// AddFileMeta appends fm to level's file list. Callers must call Flush to
// persist the change.
func (m *Manifest) AddFileMeta(level int, fm FileMeta) {
	m.levels[level] = append(m.levels[level], fm)
}

// RemoveFileMetaByFileNames removes every FileMeta in level whose FileName
// is in names. Callers must call Flush to persist the change.
func (m *Manifest) RemoveFileMetaByFileNames(level int, names map[string]bool) {
	kept := m.levels[level][:0]
	for _, fm := range m.levels[level] {
		if !names[fm.FileName] {
			kept = append(kept, fm)
		}
	}
	m.levels[level] = kept
}

// Flush durably persists the current state: serialize, write MANIFEST.tmp,
// fsync it, rename it over MANIFEST, then fsync the directory so the
// rename itself is durable.
func (m *Manifest) Flush() error {
	tmpPath := filepath.Join(m.dir, tmpFileName)
	path := filepath.Join(m.dir, fileName)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("manifest: create %s: %w", tmpPath, err)
	}
	if _, err := f.Write(m.encode()); err != nil {
		f.Close()
		return fmt.Errorf("manifest: write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("manifest: sync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("manifest: close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("manifest: rename %s to %s: %w", tmpPath, path, err)
	}

	dir, err := os.Open(m.dir)
	if err != nil {
		return fmt.Errorf("manifest: open dir %s: %w", m.dir, err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("manifest: sync dir %s: %w", m.dir, err)
	}

	return nil
}

// encode serializes the manifest as: magic(4) | schema version(1) |
// num_levels(varint) | per level: num_files(varint), then for each file a
// length-prefixed file name.
func (m *Manifest) encode() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, magic[:]...)
	buf = append(buf, schemaVersion)
	buf = encoding.AppendVarint64(buf, uint64(len(m.levels)))

	for _, level := range m.levels {
		buf = encoding.AppendVarint64(buf, uint64(len(level)))
		for _, fm := range level {
			buf = encoding.AppendLengthPrefixedSlice(buf, []byte(fm.FileName))
		}
	}
	return buf
}

func (m *Manifest) decode(data []byte) error {
	if len(data) < 5 || [4]byte(data[:4]) != magic {
		return fmt.Errorf("manifest: bad magic: %w", ErrInvalidData)
	}
	if data[4] != schemaVersion {
		return fmt.Errorf("manifest: unsupported schema version %d: %w", data[4], ErrInvalidData)
	}

	s := encoding.NewSlice(data[5:])

	numLevels, ok := s.GetVarint64()
	if !ok {
		return fmt.Errorf("manifest: truncated level count: %w", ErrInvalidData)
	}

	levels := make([][]FileMeta, numLevels)
	for i := range levels {
		numFiles, ok := s.GetVarint64()
		if !ok {
			return fmt.Errorf("manifest: truncated file count at level %d: %w", i, ErrInvalidData)
		}
		files := make([]FileMeta, numFiles)
		for j := range files {
			name, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return fmt.Errorf("manifest: truncated file name at level %d: %w", i, ErrInvalidData)
			}
			files[j] = FileMeta{FileName: string(name)}
		}
		levels[i] = files
	}

	if len(levels) > len(m.levels) {
		m.levels = levels
	} else {
		copy(m.levels, levels)
	}
	return nil
}
