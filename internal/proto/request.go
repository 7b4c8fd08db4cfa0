// Package proto implements the memcached-style text wire protocol the store
// is served over: request parsing, response encoding, and the value-record
// encoding (flags/ttl/payload) carried as the opaque bytes the storage core
// stores and returns unexamined.
package proto

// GetOp distinguishes get from gets. Both are served identically by this
// implementation (there are no per-item CAS tokens); the distinction only
// records which command the client sent. In both cases the reply has one
// Value line per key found, in the order requested, and missing keys are
// omitted.
type GetOp int

const (
	OpGet GetOp = iota
	OpGets
)

// SetOp distinguishes the five storage commands that share one wire
// grammar: "<cmd> key flags ttl bytes [noreply]\r\n<payload>\r\n".
type SetOp int

const (
	OpSet SetOp = iota
	OpAdd
	OpReplace
	OpAppend
	OpPrepend
)

// GetRequest is a parsed "get"/"gets" command.
type GetRequest struct {
	Op   GetOp
	Keys [][]byte
}

// SetRequest is a parsed "set"/"add"/"replace"/"append"/"prepend" command,
// including its payload.
type SetRequest struct {
	Op      SetOp
	Key     []byte
	Flags   uint32
	TTL     uint32
	Bytes   int
	Payload []byte
	NoReply bool
}

// DeleteRequest is a parsed "delete" command.
type DeleteRequest struct {
	Key     []byte
	NoReply bool
}

// Request is one of *GetRequest, *SetRequest, or *DeleteRequest.
type Request interface {
	isRequest()
}

func (*GetRequest) isRequest()    {}
func (*SetRequest) isRequest()    {}
func (*DeleteRequest) isRequest() {}
