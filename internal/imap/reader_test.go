package imap

import (
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"github.com/7dix/IMAP-Client/internal/metrics"
	"github.com/7dix/IMAP-Client/internal/transport"
)

// chunkConn serves a fixed byte stream in pre-cut segments, simulating a
// server whose response arrives across many TCP reads.
type chunkConn struct {
	chunks [][]byte
}

func (c *chunkConn) WriteAll(p []byte) error { return nil }

func (c *chunkConn) ReadSome(timeout time.Duration) ([]byte, error) {
	if len(c.chunks) == 0 {
		return nil, transport.ErrTimeout
	}
	chunk := c.chunks[0]
	c.chunks = c.chunks[1:]
	return chunk, nil
}

func (c *chunkConn) Close() error { return nil }

func newChunkReader(chunks ...string) *reader {
	conn := &chunkConn{}
	for _, chunk := range chunks {
		conn.chunks = append(conn.chunks, []byte(chunk))
	}
	return newReader(conn, &metrics.NoopRecorder{})
}

func TestGreeting(t *testing.T) {
	r := newChunkReader("* OK IMAP ready\r\n")
	got, err := r.greeting()
	if err != nil {
		t.Fatalf("greeting: %v", err)
	}
	if got != "* OK IMAP ready\r\n" {
		t.Errorf("greeting = %q", got)
	}
}

func TestGreetingAcrossSegments(t *testing.T) {
	r := newChunkReader("* OK IMAP", " ready\r\n")
	got, err := r.greeting()
	if err != nil {
		t.Fatalf("greeting: %v", err)
	}
	if got != "* OK IMAP ready\r\n" {
		t.Errorf("greeting = %q", got)
	}
}

func TestResponseSimple(t *testing.T) {
	r := newChunkReader("A1 OK logged in\r\n")
	got, err := r.response("A1")
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	if got != "A1 OK logged in\r\n" {
		t.Errorf("response = %q", got)
	}
}

func TestResponseUntaggedLines(t *testing.T) {
	text := "* 3 EXISTS\r\n* OK [UIDVALIDITY 42] ok\r\nA2 OK done\r\n"
	r := newChunkReader(text[:10], text[10:25], text[25:])
	got, err := r.response("A2")
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	if got != text {
		t.Errorf("response = %q, want %q", got, text)
	}
}

// A literal may contain CRLFs and text shaped like a completion line; none
// of it may terminate the response early.
func TestResponseLiteralHidesTagLine(t *testing.T) {
	literal := "xxA1 OK fake\r\nyyyyyy" // 20 bytes
	text := "* 1 FETCH (BODY[] {20}\r\n" + literal + ")\r\nA1 OK done\r\n"

	// Split mid-literal and mid-line to stress the scanner state.
	r := newChunkReader(text[:30], text[30:47], text[47:])
	got, err := r.response("A1")
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	if got != text {
		t.Errorf("response = %q, want %q", got, text)
	}
}

func TestResponseTagNotPrefixMatched(t *testing.T) {
	// A1 must not complete on the A10 line.
	text := "A10 OK other\r\nA1 OK done\r\n"
	r := newChunkReader(text)
	got, err := r.response("A1")
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	if got != text {
		t.Errorf("response = %q, want %q", got, text)
	}
}

func TestResponseLeadingWhitespaceOnTagLine(t *testing.T) {
	text := " A1 OK done\r\n"
	r := newChunkReader(text)
	if _, err := r.response("A1"); err != nil {
		t.Fatalf("response: %v", err)
	}
}

func TestResponseReadBudget(t *testing.T) {
	conn := &chunkConn{}
	for i := 0; i < maxReadsPerResponse+5; i++ {
		conn.chunks = append(conn.chunks, []byte("* noise\r\n"))
	}
	r := newReader(conn, &metrics.NoopRecorder{})
	_, err := r.response("A1")
	if !eris.Is(err, ErrProtocol) {
		t.Fatalf("err = %v, want protocol error", err)
	}
}

func TestResponsePropagatesTimeout(t *testing.T) {
	r := newChunkReader("* SEARCH 1 2\r\n") // tagged line never arrives
	_, err := r.response("A1")
	if !eris.Is(err, transport.ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestIsTaggedCompletion(t *testing.T) {
	cases := []struct {
		line string
		tag  string
		want bool
	}{
		{"A1 OK done\r\n", "A1", true},
		{"A1 NO nope\r\n", "A1", true},
		{"A1 BAD syntax\r\n", "A1", true},
		{"A1 BYE\r\n", "A1", true},
		{"  A1 OK padded\r\n", "A1", true},
		{"A10 OK done\r\n", "A1", false},
		{"A1 ok lowercase\r\n", "A1", false},
		{"A1OK nospace\r\n", "A1", false},
		{"* OK untagged\r\n", "A1", false},
		{"A2 OK wrong tag\r\n", "A1", false},
	}
	for _, tc := range cases {
		if got := isTaggedCompletion(tc.line, tc.tag); got != tc.want {
			t.Errorf("isTaggedCompletion(%q, %q) = %v, want %v", tc.line, tc.tag, got, tc.want)
		}
	}
}

func TestResponseKeepsLeftoverForNext(t *testing.T) {
	r := newChunkReader("A1 OK first\r\nA2 OK second\r\n")
	first, err := r.response("A1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first != "A1 OK first\r\n" {
		t.Errorf("first = %q", first)
	}
	second, err := r.response("A2")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !strings.HasPrefix(second, "A2 OK") {
		t.Errorf("second = %q", second)
	}
}
