package proto

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"
)

func parse(t *testing.T, input string) Request {
	t.Helper()
	req, err := ReadRequest(bufio.NewReader(bytes.NewBufferString(input)))
	if err != nil {
		t.Fatalf("ReadRequest(%q): %v", input, err)
	}
	return req
}

func TestParseGet(t *testing.T) {
	req := parse(t, "get abc\r\n")
	g, ok := req.(*GetRequest)
	if !ok {
		t.Fatalf("got %T, want *GetRequest", req)
	}
	if g.Op != OpGet || len(g.Keys) != 1 || string(g.Keys[0]) != "abc" {
		t.Fatalf("got %+v", g)
	}
}

func TestParseGetMultipleKeysAndExtraSpaces(t *testing.T) {
	req := parse(t, "get    abc  def   ghi\r\n")
	g := req.(*GetRequest)
	want := []string{"abc", "def", "ghi"}
	if len(g.Keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(g.Keys), len(want))
	}
	for i, k := range want {
		if string(g.Keys[i]) != k {
			t.Fatalf("key %d = %q, want %q", i, g.Keys[i], k)
		}
	}
}

func TestParseGets(t *testing.T) {
	req := parse(t, "gets abc\r\n")
	g := req.(*GetRequest)
	if g.Op != OpGets {
		t.Fatalf("Op = %v, want OpGets", g.Op)
	}
}

func TestParseSet(t *testing.T) {
	req := parse(t, "set abc 1 0 7\r\n\"a b c\"\r\n")
	s := req.(*SetRequest)
	if s.Op != OpSet || string(s.Key) != "abc" || s.Flags != 1 || s.TTL != 0 ||
		s.Bytes != 7 || string(s.Payload) != "\"a b c\"" || s.NoReply {
		t.Fatalf("got %+v", s)
	}
}

func TestParseSetExtraSpaces(t *testing.T) {
	req := parse(t, "set    abc    1 0 7\r\n\"a b c\"\r\n")
	s := req.(*SetRequest)
	if string(s.Key) != "abc" || string(s.Payload) != "\"a b c\"" {
		t.Fatalf("got %+v", s)
	}
}

func TestParseSetNoReply(t *testing.T) {
	req := parse(t, "set abc 1 0 7 noreply\r\n\"a b c\"\r\n")
	s := req.(*SetRequest)
	if !s.NoReply {
		t.Fatal("NoReply = false, want true")
	}
}

func TestParseSetPayloadContainingCRLF(t *testing.T) {
	req := parse(t, "set abc 1 0 6\r\nabcd\r\n\r\n")
	s := req.(*SetRequest)
	if string(s.Payload) != "abcd\r\n" {
		t.Fatalf("Payload = %q, want %q", s.Payload, "abcd\r\n")
	}
}

func TestParseAdd(t *testing.T) {
	req := parse(t, "add abc 1 0 6\r\nabcd\r\n\r\n")
	s := req.(*SetRequest)
	if s.Op != OpAdd {
		t.Fatalf("Op = %v, want OpAdd", s.Op)
	}
}

func TestParseDelete(t *testing.T) {
	req := parse(t, "delete abc\r\n")
	d := req.(*DeleteRequest)
	if string(d.Key) != "abc" || d.NoReply {
		t.Fatalf("got %+v", d)
	}
}

func TestParseDeleteNoReply(t *testing.T) {
	req := parse(t, "delete abc noreply\r\n")
	d := req.(*DeleteRequest)
	if !d.NoReply {
		t.Fatal("NoReply = false, want true")
	}
}

func TestParseUnknownCommandIsClientError(t *testing.T) {
	_, err := ReadRequest(bufio.NewReader(bytes.NewBufferString("frobnicate abc\r\n")))
	if !errors.Is(err, ErrClientError) {
		t.Fatalf("err = %v, want an ErrClientError for an unknown command", err)
	}
}

func TestParseEOFBetweenRequests(t *testing.T) {
	_, err := ReadRequest(bufio.NewReader(bytes.NewBuffer(nil)))
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestParseMultipleRequestsFromOneStream(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("get a\r\nget b\r\n"))
	req1, err := ReadRequest(r)
	if err != nil {
		t.Fatalf("first ReadRequest: %v", err)
	}
	req2, err := ReadRequest(r)
	if err != nil {
		t.Fatalf("second ReadRequest: %v", err)
	}
	if string(req1.(*GetRequest).Keys[0]) != "a" || string(req2.(*GetRequest).Keys[0]) != "b" {
		t.Fatalf("got %+v, %+v", req1, req2)
	}
}
