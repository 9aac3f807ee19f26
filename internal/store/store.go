// Package store implements the local mail mirror: a directory tree keyed by
// account and mailbox, reconciled against the server's UIDVALIDITY. Messages
// are saved as raw .eml files named by UID and NEVER rewritten in transit —
// the bytes on disk are exactly the bytes the server sent.
package store

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"
)

// ErrStorage covers filesystem failures in the local store.
var ErrStorage = eris.New("storage error")

const uidValidityFile = "uidvalidity.txt"

// ReconcileResult describes what Reconcile did to the mailbox directory.
type ReconcileResult int

const (
	// Unchanged: the stored UIDVALIDITY matches the server's.
	Unchanged ReconcileResult = iota
	// Updated: the values differed; local messages were purged.
	Updated
	// Created: the mailbox directory or its UIDVALIDITY file did not exist.
	Created
)

// MessageStatus classifies a local message record by content.
type MessageStatus int

const (
	// Absent: no file, or an empty one.
	Absent MessageStatus = iota
	// HeadersOnly: no non-empty line after a blank separator.
	HeadersOnly
	// Full: at least one non-empty line after a blank separator.
	Full
)

// Store owns all files under the output directory. Layout:
//
//	<root>/<account>/<mailbox>/uidvalidity.txt
//	<root>/<account>/<mailbox>/<uid>.eml
type Store struct {
	root string
}

// New creates a store rooted at the output directory.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) mailboxDir(account, mailbox string) string {
	return filepath.Join(s.root, account, mailbox)
}

func (s *Store) messagePath(uid int, account, mailbox string) string {
	return filepath.Join(s.mailboxDir(account, mailbox), strconv.Itoa(uid)+".eml")
}

// Reconcile compares the stored UIDVALIDITY with the server's current value.
// On mismatch — or when the file is missing from a populated directory —
// every local .eml is stale and is deleted before anything new is written.
func (s *Store) Reconcile(account, mailbox string, remoteUIDValidity int) (ReconcileResult, error) {
	dir := s.mailboxDir(account, mailbox)
	uvPath := filepath.Join(dir, uidValidityFile)

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return 0, eris.Wrapf(ErrStorage, "stat %s: %v", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, eris.Wrapf(ErrStorage, "create %s: %v", dir, err)
		}
		if err := writeUIDValidity(uvPath, remoteUIDValidity); err != nil {
			return 0, err
		}
		return Created, nil
	}

	data, err := os.ReadFile(uvPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return 0, eris.Wrapf(ErrStorage, "read %s: %v", uvPath, err)
		}
		// Directory exists without a UIDVALIDITY record: whatever is in it
		// cannot be trusted to belong to the current mailbox generation.
		if err := s.purgeMessages(dir); err != nil {
			return 0, err
		}
		if err := writeUIDValidity(uvPath, remoteUIDValidity); err != nil {
			return 0, err
		}
		return Created, nil
	}

	stored, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && stored == remoteUIDValidity {
		return Unchanged, nil
	}

	// Mismatch (an unparsable file counts as one): the server renumbered.
	if err := s.purgeMessages(dir); err != nil {
		return 0, err
	}
	if err := writeUIDValidity(uvPath, remoteUIDValidity); err != nil {
		return 0, err
	}
	return Updated, nil
}

// Classify reports whether a message is already on disk, and to what
// fidelity. Fullness is inferred from content: a body exists when a
// non-empty line follows a blank separator line.
func (s *Store) Classify(uid int, account, mailbox string) (MessageStatus, error) {
	f, err := os.Open(s.messagePath(uid, account, mailbox))
	if err != nil {
		if os.IsNotExist(err) {
			return Absent, nil
		}
		return 0, eris.Wrapf(ErrStorage, "open %d.eml: %v", uid, err)
	}
	defer f.Close()

	sawBlank := false
	nonEmpty := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			sawBlank = true
			continue
		}
		nonEmpty = true
		if sawBlank {
			return Full, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, eris.Wrapf(ErrStorage, "read %d.eml: %v", uid, err)
	}
	if !nonEmpty {
		return Absent, nil
	}
	return HeadersOnly, nil
}

// Save writes the exact message bytes to <uid>.eml, overwriting any existing
// record (a headers-only record upgrades to a full one this way). The file
// mtime is then stamped from the message's Date header, best effort.
func (s *Store) Save(content []byte, uid int, account, mailbox string) error {
	dir := s.mailboxDir(account, mailbox)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(ErrStorage, "create %s: %v", dir, err)
	}
	path := s.messagePath(uid, account, mailbox)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return eris.Wrapf(ErrStorage, "write %s: %v", path, err)
	}
	stampMtime(path, content)
	return nil
}

// purgeMessages deletes every .eml in dir, leaving everything else alone.
func (s *Store) purgeMessages(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return eris.Wrapf(ErrStorage, "list %s: %v", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".eml") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return eris.Wrapf(ErrStorage, "remove %s: %v", e.Name(), err)
		}
	}
	return nil
}

// writeUIDValidity persists the value atomically: write a temp file, then
// rename over the target, so a crash never leaves a half-written record.
func writeUIDValidity(path string, value int) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(value)), 0o644); err != nil {
		return eris.Wrapf(ErrStorage, "write %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return eris.Wrapf(ErrStorage, "rename %s: %v", path, err)
	}
	return nil
}

// stampMtime sets the file's modification time from the message Date header.
func stampMtime(path string, content []byte) {
	entity, err := message.Read(bytes.NewReader(content))
	if err != nil && !message.IsUnknownCharset(err) {
		return
	}
	header := mail.Header{Header: entity.Header}
	date, err := header.Date()
	if err != nil || date.IsZero() {
		return
	}
	os.Chtimes(path, date, date)
}
