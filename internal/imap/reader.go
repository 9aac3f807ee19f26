package imap

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/7dix/IMAP-Client/internal/metrics"
	"github.com/7dix/IMAP-Client/internal/transport"
)

const (
	// defaultReadTimeout bounds each individual read from the server.
	defaultReadTimeout = 30 * time.Second

	// maxReadsPerResponse bounds the number of reads assembled into one
	// response before the reader gives up.
	maxReadsPerResponse = 1000
)

// literalSuffix matches the synchronising literal marker {N} at end of line.
var literalSuffix = regexp.MustCompile(`\{(\d+)\}$`)

// reader assembles bytes from the transport into complete IMAP responses.
// A response is complete when a line starting with the current tag and a
// status keyword has been seen; {N} literals in between are consumed as
// opaque payload so that tag-like text inside a message body can never
// terminate the scan early.
type reader struct {
	conn    transport.Conn
	rec     metrics.Recorder
	timeout time.Duration

	// leftover holds bytes received past the end of the previous response.
	leftover []byte
}

func newReader(conn transport.Conn, rec metrics.Recorder) *reader {
	return &reader{conn: conn, rec: rec, timeout: defaultReadTimeout}
}

// greeting returns the server's untagged greeting, complete after the first
// non-empty line.
func (r *reader) greeting() (string, error) {
	acc := r.leftover
	r.leftover = nil
	pos := 0

	for reads := 0; ; reads++ {
		for {
			idx := bytes.IndexByte(acc[pos:], '\n')
			if idx < 0 {
				break
			}
			end := pos + idx + 1
			line := acc[pos:end]
			pos = end
			if len(bytes.TrimRight(line, "\r\n")) > 0 {
				r.leftover = append(r.leftover, acc[pos:]...)
				return string(acc[:pos]), nil
			}
		}
		if reads >= maxReadsPerResponse {
			return "", eris.Wrap(ErrProtocol, "no greeting within read budget")
		}
		data, err := r.conn.ReadSome(r.timeout)
		if err != nil {
			return "", err
		}
		r.rec.BytesRead(len(data))
		acc = append(acc, data...)
	}
}

// response accumulates data until the tagged completion line for tag is seen
// and returns the full response text including that line's CRLF.
func (r *reader) response(tag string) (string, error) {
	acc := r.leftover
	r.leftover = nil
	pos := 0     // scan offset: everything before pos has been consumed
	literal := 0 // opaque bytes still owed by a {N} marker

	for reads := 0; ; reads++ {
		for {
			if literal > 0 {
				avail := len(acc) - pos
				if avail < literal {
					literal -= avail
					pos = len(acc)
					break // need more data
				}
				pos += literal
				literal = 0
			}

			idx := bytes.IndexByte(acc[pos:], '\n')
			if idx < 0 {
				break
			}
			end := pos + idx + 1
			line := acc[pos:end]
			pos = end

			if isTaggedCompletion(string(line), tag) {
				r.leftover = append(r.leftover, acc[pos:]...)
				return string(acc[:pos]), nil
			}
			if m := literalSuffix.FindSubmatch(bytes.TrimRight(line, "\r\n")); m != nil {
				n, err := strconv.Atoi(string(m[1]))
				if err != nil {
					return "", eris.Wrapf(ErrProtocol, "bad literal length in %q", line)
				}
				literal = n
			}
		}

		if reads >= maxReadsPerResponse {
			return "", eris.Wrapf(ErrProtocol, "response for %s incomplete after %d reads", tag, maxReadsPerResponse)
		}
		data, err := r.conn.ReadSome(r.timeout)
		if err != nil {
			return "", err
		}
		r.rec.BytesRead(len(data))
		acc = append(acc, data...)
	}
}

// isTaggedCompletion reports whether line is the completion line for tag:
// optional leading whitespace, the exact tag, whitespace, and a status
// keyword. The tag is compared whole, so A1 never matches A10.
func isTaggedCompletion(line, tag string) bool {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimLeft(line, " \t")
	rest, ok := strings.CutPrefix(line, tag)
	if !ok || rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "OK", "NO", "BAD", "PREAUTH", "BYE":
		return true
	}
	return false
}
