package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
)

func writeAuthFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRead(t *testing.T) {
	path := writeAuthFile(t, "username = alice\npassword = s3cret\n")
	creds, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if creds.Username != "alice" || creds.Password != "s3cret" {
		t.Errorf("creds = %+v", creds)
	}
}

func TestReadTrimsWhitespace(t *testing.T) {
	path := writeAuthFile(t, "  username   =   alice  \npassword=s3cret")
	creds, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if creds.Username != "alice" || creds.Password != "s3cret" {
		t.Errorf("creds = %+v", creds)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope"))
	if !eris.Is(err, ErrAuthFile) {
		t.Fatalf("err = %v, want auth file error", err)
	}
}

func TestReadLineWithoutEquals(t *testing.T) {
	path := writeAuthFile(t, "username = alice\njust some text\npassword = x\n")
	_, err := Read(path)
	if !eris.Is(err, ErrAuthFile) {
		t.Fatalf("err = %v, want auth file error", err)
	}
}

func TestReadMissingPassword(t *testing.T) {
	path := writeAuthFile(t, "username = alice\n")
	_, err := Read(path)
	if !eris.Is(err, ErrAuthFile) {
		t.Fatalf("err = %v, want auth file error", err)
	}
}

func TestReadStopsAfterBothKeys(t *testing.T) {
	// Lines after both keys are present are never parsed, so trailing
	// garbage does not fail the read.
	path := writeAuthFile(t, "username = alice\npassword = x\ntrailing garbage\n")
	creds, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if creds.Username != "alice" || creds.Password != "x" {
		t.Errorf("creds = %+v", creds)
	}
}

func TestReadFirstOccurrenceWins(t *testing.T) {
	path := writeAuthFile(t, "username = alice\nusername = bob\npassword = x\n")
	creds, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if creds.Username != "alice" {
		t.Errorf("username = %q, want alice", creds.Username)
	}
}
