package proto

import (
	"bufio"
	"bytes"
	"testing"
)

func writeResponse(t *testing.T, resp Response) string {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := resp.WriteTo(w); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return buf.String()
}

func TestWriteSimpleResponses(t *testing.T) {
	cases := []struct {
		resp Response
		want string
	}{
		{Stored, "STORED\r\n"},
		{NotStored, "NOT_STORED\r\n"},
		{Exists, "EXISTS\r\n"},
		{NotFound, "NOT_FOUND\r\n"},
		{Deleted, "DELETED\r\n"},
		{End, "END\r\n"},
		{ServerError("boom"), "SERVER_ERROR boom\r\n"},
		{ClientError("bad command"), "CLIENT_ERROR bad command\r\n"},
	}
	for _, tc := range cases {
		if got := writeResponse(t, tc.resp); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
}

func TestWriteValueResponse(t *testing.T) {
	resp := ValueResponse{Key: []byte("k"), Flags: 7, Payload: []byte("hello")}
	want := "VALUE k 7 5\r\nhello\r\n"
	if got := writeResponse(t, resp); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
