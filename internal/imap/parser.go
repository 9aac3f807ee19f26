package imap

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Greeting classifies the server's connection greeting.
type Greeting int

const (
	GreetingOK Greeting = iota
	GreetingPreAuth
	GreetingBye
)

// Status is the tagged completion result of a command.
type Status int

const (
	StatusOK Status = iota
	StatusNo
	StatusBad
)

var (
	greetingOK      = regexp.MustCompile(`^\*\s+OK`)
	greetingPreAuth = regexp.MustCompile(`^\*\s+PREAUTH`)
	greetingBye     = regexp.MustCompile(`^\*\s+BYE`)

	uidValidityRe = regexp.MustCompile(`OK \[UIDVALIDITY (\d+)\]`)

	// fetchLiteral matches the untagged FETCH line announcing a body section
	// literal; the message bytes start right after the line break.
	fetchLiteral = regexp.MustCompile(`\*\s+\d+\s+FETCH\s+\(.*?BODY\[(?:HEADER)?\][^\r\n]*\{(\d+)\}\r?\n`)
)

// ClassifyGreeting recognises the untagged greeting that opens a session.
// Anything other than OK, PREAUTH, or BYE is a protocol error.
func ClassifyGreeting(text string) (Greeting, error) {
	for _, line := range splitLines(text) {
		if line == "" {
			continue
		}
		switch {
		case greetingOK.MatchString(line):
			return GreetingOK, nil
		case greetingPreAuth.MatchString(line):
			return GreetingPreAuth, nil
		case greetingBye.MatchString(line):
			return GreetingBye, nil
		}
		break
	}
	return 0, eris.Wrapf(ErrProtocol, "unknown greeting %q", firstLine(text))
}

// ParseStatus finds the tagged completion line for tag and returns its
// status plus the residual message text after the status keyword. The tag
// is matched whole (A1 never matches A10) and leading whitespace on the
// line is tolerated.
func ParseStatus(text, tag string) (Status, string, error) {
	for _, line := range splitLines(text) {
		trimmed := strings.TrimLeft(line, " \t")
		rest, ok := strings.CutPrefix(trimmed, tag)
		if !ok || rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
			continue
		}
		rest = strings.TrimLeft(rest, " \t")
		keyword, info, _ := strings.Cut(rest, " ")
		switch keyword {
		case "OK":
			return StatusOK, info, nil
		case "NO":
			return StatusNo, info, nil
		case "BAD":
			return StatusBad, info, nil
		}
	}
	return 0, "", eris.Wrapf(ErrProtocol, "no completion line for %s", tag)
}

// ExtractUIDValidity scans the untagged OK responses of a SELECT for the
// UIDVALIDITY code. A SELECT response without one is a protocol error.
func ExtractUIDValidity(text string) (int, error) {
	for _, line := range splitLines(text) {
		if !strings.HasPrefix(line, "*") {
			continue
		}
		if m := uidValidityRe.FindStringSubmatch(line); m != nil {
			v, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, eris.Wrapf(ErrProtocol, "bad UIDVALIDITY in %q", line)
			}
			return v, nil
		}
	}
	return 0, eris.Wrap(ErrProtocol, "SELECT response carries no UIDVALIDITY")
}

// ParseSearch collects the UIDs from every untagged SEARCH line, in the
// order the server sent them. An empty result is not an error.
func ParseSearch(text string) []int {
	var uids []int
	for _, line := range splitLines(text) {
		if !strings.HasPrefix(line, "* SEARCH") {
			continue
		}
		for _, field := range strings.Fields(line)[2:] {
			uid, err := strconv.Atoi(field)
			if err != nil {
				continue
			}
			uids = append(uids, uid)
		}
	}
	return uids
}

// ParseFetchBody extracts the message bytes from the first untagged FETCH
// response carrying a BODY[] or BODY[HEADER] literal: exactly the N bytes
// declared by the {N} marker, byte for byte.
func ParseFetchBody(text string) ([]byte, error) {
	m := fetchLiteral.FindStringSubmatchIndex(text)
	if m == nil {
		return nil, eris.Wrap(ErrProtocol, "FETCH response carries no body literal")
	}
	n, err := strconv.Atoi(text[m[2]:m[3]])
	if err != nil {
		return nil, eris.Wrapf(ErrProtocol, "bad literal length %q", text[m[2]:m[3]])
	}
	start := m[1]
	if len(text) < start+n {
		return nil, eris.Wrapf(ErrProtocol, "truncated literal: want %d bytes, have %d", n, len(text)-start)
	}
	return []byte(text[start : start+n]), nil
}

// splitLines splits response text on newlines, trimming the line
// terminator; both \r\n and bare \n are accepted.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return strings.TrimRight(line, "\r")
}
