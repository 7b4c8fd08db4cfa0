// Command server runs a standalone tomatokv instance: a memcached-style text
// protocol listener backed by the LSM-tree storage core in internal/store.
//
// Usage:
//
//	server --addr=127.0.0.1:12333 --work_dir=/var/lib/tomatokv
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomato-kv/tomatokv/internal/checksum"
	"github.com/tomato-kv/tomatokv/internal/compression"
	"github.com/tomato-kv/tomatokv/internal/logging"
	"github.com/tomato-kv/tomatokv/internal/proto"
	"github.com/tomato-kv/tomatokv/internal/store"
)

var (
	addr                 = flag.String("addr", "127.0.0.1:12333", "Address to listen on")
	workDir              = flag.String("work_dir", "", "Directory for the manifest, SSTables, and WAL segments (required)")
	maxLevel             = flag.Int("max_level", 7, "Bottommost LSM level")
	blockSize            = flag.Int("block_size", 4096, "Target uncompressed data block size")
	blockRestartInterval = flag.Int("block_restart_interval", 16, "Keys between block restart points")
	compressionFlag      = flag.String("compression", "snappy", "Block compression: none|snappy|lz4|zstd")
	blockCacheCapacity   = flag.Uint64("block_cache_capacity", 8<<20, "Block cache capacity, in bytes")
	memTableMaxSize      = flag.Int("memtable_max_size", 4<<20, "Memtable size threshold before it is sealed for flush")
	memTableMaxHeight    = flag.Int("memtable_max_height", 12, "Memtable skip-list height")
	l0CompactionTrigger  = flag.Int("l0_compaction_trigger", 4, "L0 file count at which compaction score reaches 1.0")
	checksumFlag         = flag.String("checksum", "crc32c", "Block checksum: crc32c|xxh3")
	logLevel             = flag.String("log_level", "info", "Log level: error|warn|info|debug")
)

func main() {
	flag.Parse()

	if *workDir == "" {
		fmt.Fprintln(os.Stderr, "Error: --work_dir is required")
		os.Exit(1)
	}

	logger := logging.NewDefaultLogger(parseLogLevel(*logLevel))

	opts := store.Options{
		WorkDir:              *workDir,
		MaxLevel:             *maxLevel,
		BlockSize:            *blockSize,
		BlockRestartInterval: *blockRestartInterval,
		Compression:          parseCompression(*compressionFlag),
		ChecksumType:         parseChecksum(*checksumFlag),
		BlockCacheCapacity:   *blockCacheCapacity,
		MemTableMaxSize:      *memTableMaxSize,
		MemTableMaxHeight:    *memTableMaxHeight,
		L0CompactionTrigger:  *l0CompactionTrigger,
	}

	s, err := store.Open(opts, logger)
	if err != nil {
		logger.Fatalf("%sopen store: %v", logging.NSStore, err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatalf("%slisten on %s: %v", logging.NSStore, *addr, err)
		os.Exit(1)
	}
	logger.Infof("%slistening on %s, work_dir=%s", logging.NSStore, *addr, *workDir)

	go waitForShutdown(ln, s, logger)

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Infof("%slistener closed: %v", logging.NSStore, err)
			return
		}
		go handleConn(conn, s, logger)
	}
}

// waitForShutdown closes the store and then the listener on SIGINT/SIGTERM so
// the store flushes its active memtable and fsyncs the WAL before the process
// exits (main returns once the listener is closed), per the clean-shutdown
// behavior the storage core promises.
func waitForShutdown(ln net.Listener, s *store.Store, logger logging.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Infof("%sshutting down", logging.NSStore)
	if err := s.Close(); err != nil {
		logger.Errorf("%sclose on shutdown: %v", logging.NSStore, err)
	}
	ln.Close()
}

func parseLogLevel(s string) logging.Level {
	switch s {
	case "error":
		return logging.LevelError
	case "warn":
		return logging.LevelWarn
	case "debug":
		return logging.LevelDebug
	default:
		return logging.LevelInfo
	}
}

func parseChecksum(s string) checksum.Type {
	if s == "xxh3" {
		return checksum.TypeXXH3
	}
	return checksum.TypeCRC32C
}

func parseCompression(s string) compression.Type {
	switch s {
	case "none":
		return compression.NoCompression
	case "lz4":
		return compression.LZ4Compression
	case "zstd":
		return compression.ZstdCompression
	default:
		return compression.SnappyCompression
	}
}

// handleConn drives one client connection until it closes or a read fails,
// dispatching each parsed command to the store and writing back the wire
// response. A malformed request gets a CLIENT_ERROR reply and the
// connection stays open.
func handleConn(conn net.Conn, s *store.Store, logger logging.Logger) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		req, err := proto.ReadRequest(r)
		if err != nil {
			if !errors.Is(err, proto.ErrClientError) {
				return
			}
			if writeResponses(w, []proto.Response{proto.ClientError(err.Error())}) != nil || w.Flush() != nil {
				return
			}
			continue
		}

		resp, noReply := dispatch(req, s)
		if noReply {
			continue
		}
		if err := writeResponses(w, resp); err != nil {
			logger.Warnf("%swrite response: %v", logging.NSProto, err)
			return
		}
		if err := w.Flush(); err != nil {
			logger.Warnf("%sflush response: %v", logging.NSProto, err)
			return
		}
	}
}

// dispatch applies req to the store and returns the response line(s) to
// send, plus whether the client asked to suppress them (noreply is honored
// only for successful mutations; errors are always reported).
func dispatch(req proto.Request, s *store.Store) (responses []proto.Response, noReply bool) {
	switch r := req.(type) {
	case *proto.GetRequest:
		return dispatchGet(r, s), false
	case *proto.SetRequest:
		resp, isErr := dispatchSet(r, s)
		return []proto.Response{resp}, r.NoReply && !isErr
	case *proto.DeleteRequest:
		resp, isErr := dispatchDelete(r, s)
		return []proto.Response{resp}, r.NoReply && !isErr
	default:
		return []proto.Response{proto.ServerError("unknown request type")}, false
	}
}

func dispatchGet(r *proto.GetRequest, s *store.Store) []proto.Response {
	var responses []proto.Response
	for _, key := range r.Keys {
		raw, found, err := s.Get(key)
		if err != nil {
			responses = append(responses, proto.ServerError(err.Error()))
			continue
		}
		if !found {
			continue
		}
		flags, _, payload, err := proto.DecodeValueRecord(raw)
		if err != nil {
			responses = append(responses, proto.ServerError(err.Error()))
			continue
		}
		responses = append(responses, proto.ValueResponse{Key: key, Flags: flags, Payload: payload})
	}
	responses = append(responses, proto.End)
	return responses
}

func dispatchSet(r *proto.SetRequest, s *store.Store) (resp proto.Response, isErr bool) {
	raw := proto.EncodeValueRecord(r.Flags, r.TTL, r.Payload)

	var stored bool
	var err error
	switch r.Op {
	case proto.OpSet:
		err = s.Set(r.Key, raw)
		stored = err == nil
	case proto.OpAdd:
		stored, err = s.Add(r.Key, raw)
	case proto.OpReplace:
		stored, err = s.Replace(r.Key, raw)
	case proto.OpAppend:
		stored, err = s.Append(r.Key, raw)
	case proto.OpPrepend:
		stored, err = s.Prepend(r.Key, raw)
	}

	if err != nil {
		return proto.ServerError(err.Error()), true
	}
	if !stored {
		return proto.NotStored, false
	}
	return proto.Stored, false
}

func dispatchDelete(r *proto.DeleteRequest, s *store.Store) (resp proto.Response, isErr bool) {
	deleted, err := s.Delete(r.Key)
	if err != nil {
		return proto.ServerError(err.Error()), true
	}
	if !deleted {
		return proto.NotFound, false
	}
	return proto.Deleted, false
}

func writeResponses(w *bufio.Writer, responses []proto.Response) error {
	for _, resp := range responses {
		if err := resp.WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}
