// Package auth reads login credentials from the auth file: plain text,
// one "key = value" per line, keys "username" and "password".
package auth

import (
	"bufio"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrAuthFile covers a missing, unreadable, or malformed auth file, and
// missing credentials.
var ErrAuthFile = eris.New("auth file error")

// Credentials hold the login identity. Read once, never persisted.
type Credentials struct {
	Username string
	Password string
}

// Read parses the auth file at path. Surrounding whitespace is trimmed from
// both key and value; a line without '=' is a parse error. Reading stops
// once both keys are present; the first occurrence of each wins.
func Read(path string) (Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return Credentials{}, eris.Wrapf(ErrAuthFile, "open %s: %v", path, err)
	}
	defer f.Close()

	var creds Credentials
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if creds.Username != "" && creds.Password != "" {
			break
		}
		line := scanner.Text()
		key, value, found := strings.Cut(line, "=")
		if !found {
			return Credentials{}, eris.Wrapf(ErrAuthFile, "malformed line %q in %s", line, path)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "username":
			if creds.Username == "" {
				creds.Username = value
			}
		case "password":
			if creds.Password == "" {
				creds.Password = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Credentials{}, eris.Wrapf(ErrAuthFile, "read %s: %v", path, err)
	}

	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, eris.Wrapf(ErrAuthFile, "%s is missing username or password", path)
	}
	return creds, nil
}
