// Package imap implements the IMAP4rev1 retrieval session: the state
// machine from connect through greeting, LOGIN, SELECT, UID SEARCH and
// per-message UID FETCH, plus the response reader and parser it drives.
// The session is strictly sequential: one command in flight, the next sent
// only after the previous tagged response has been consumed.
package imap

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/7dix/IMAP-Client/internal/auth"
	"github.com/7dix/IMAP-Client/internal/metrics"
	"github.com/7dix/IMAP-Client/internal/store"
	"github.com/7dix/IMAP-Client/internal/transport"
)

// State is the session driver's position in the protocol.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateNotAuthenticated
	StateAuthenticated
	StateMailboxSelected
	StateLoggedOut
)

// Config describes one retrieval session.
type Config struct {
	Transport   transport.Config
	Mailbox     string
	OnlyNew     bool
	HeadersOnly bool
}

// Summary is the user-visible outcome of a run.
type Summary struct {
	Downloaded     int
	AlreadyPresent int
	OnlyNew        bool
	HeadersOnly    bool
	Mailbox        string
}

func (s Summary) String() string {
	var b strings.Builder
	newText := ""
	if s.OnlyNew {
		newText = "new "
	}
	if s.Downloaded == 0 {
		fmt.Fprintf(&b, "No %smessages downloaded", newText)
	} else {
		word := "messages"
		if s.Downloaded == 1 {
			word = "message"
		}
		fmt.Fprintf(&b, "Downloaded %d %s%s", s.Downloaded, newText, word)
	}
	if s.HeadersOnly {
		b.WriteString(" (headers only)")
	}
	fmt.Fprintf(&b, " from mailbox %s", s.Mailbox)
	if s.AlreadyPresent > 0 {
		fmt.Fprintf(&b, " (%d already present)", s.AlreadyPresent)
	}
	b.WriteString(".")
	return b.String()
}

// Client drives a single session against one mailbox.
type Client struct {
	cfg   Config
	store *store.Store
	rec   metrics.Recorder

	// Out receives the end-of-run summary line. Defaults to stdout.
	Out io.Writer

	dial    func(transport.Config) (transport.Conn, error)
	conn    transport.Conn
	rd      *reader
	state   State
	tag     int
	account string
	summary Summary
}

// NewClient creates a session driver. rec may be nil for no metrics.
func NewClient(cfg Config, st *store.Store, rec metrics.Recorder) *Client {
	if rec == nil {
		rec = &metrics.NoopRecorder{}
	}
	return &Client{
		cfg:   cfg,
		store: st,
		rec:   rec,
		Out:   os.Stdout,
		dial:  transport.Dial,
		state: StateDisconnected,
		tag:   1,
	}
}

// State returns the driver's current protocol state.
func (c *Client) State() State {
	return c.state
}

// Run executes the whole session. On any failure it still attempts a
// best-effort LOGOUT and releases the connection before returning.
func (c *Client) Run(creds auth.Credentials) (Summary, error) {
	c.account = creds.Username

	for c.state != StateLoggedOut {
		var err error
		switch c.state {
		case StateDisconnected:
			err = c.connect()
		case StateConnected:
			err = c.greet()
		case StateNotAuthenticated:
			err = c.login(creds)
		case StateAuthenticated:
			err = c.selectMailbox()
		case StateMailboxSelected:
			err = c.fetchMessages()
		default:
			panic(fmt.Sprintf("imap: illegal session state %d", c.state))
		}
		if err != nil {
			c.shutdown()
			return c.summary, err
		}
	}

	c.shutdown()
	c.rec.SessionCompleted()
	return c.summary, nil
}

func (c *Client) connect() error {
	conn, err := c.dial(c.cfg.Transport)
	if err != nil {
		return err
	}
	c.conn = conn
	c.rd = newReader(conn, c.rec)
	c.state = StateConnected
	return nil
}

func (c *Client) greet() error {
	text, err := c.rd.greeting()
	if err != nil {
		return err
	}
	greeting, err := ClassifyGreeting(text)
	if err != nil {
		return err
	}
	switch greeting {
	case GreetingOK:
		c.state = StateNotAuthenticated
	case GreetingPreAuth:
		c.state = StateAuthenticated
	case GreetingBye:
		return eris.Wrap(ErrProtocol, "server refused connection (BYE)")
	}
	return nil
}

func (c *Client) login(creds auth.Credentials) error {
	tag, resp, err := c.exchange(fmt.Sprintf("LOGIN %s %s", creds.Username, creds.Password))
	if err != nil {
		return err
	}
	status, info, err := ParseStatus(resp, tag)
	if err != nil {
		return err
	}
	if status != StatusOK {
		return eris.Wrapf(ErrAuth, "%s", info)
	}
	log.Printf("INFO: logged in to %s as %s", c.cfg.Transport.Host, c.account)
	c.state = StateAuthenticated
	return nil
}

func (c *Client) selectMailbox() error {
	tag, resp, err := c.exchange("SELECT " + c.cfg.Mailbox)
	if err != nil {
		return err
	}
	status, info, err := ParseStatus(resp, tag)
	if err != nil {
		return err
	}
	if status != StatusOK {
		return eris.Wrapf(ErrSelect, "%s", info)
	}

	uidValidity, err := ExtractUIDValidity(resp)
	if err != nil {
		return err
	}

	result, err := c.store.Reconcile(c.account, c.cfg.Mailbox, uidValidity)
	if err != nil {
		return err
	}
	switch result {
	case store.Created:
		log.Printf("INFO: mailbox %q initialised with UIDVALIDITY %d", c.cfg.Mailbox, uidValidity)
	case store.Updated:
		log.Printf("INFO: UIDVALIDITY of %q changed to %d, stale local messages purged", c.cfg.Mailbox, uidValidity)
	}

	c.state = StateMailboxSelected
	return nil
}

func (c *Client) fetchMessages() error {
	criterion := "ALL"
	if c.cfg.OnlyNew {
		criterion = "NEW"
	}
	tag, resp, err := c.exchange("UID SEARCH " + criterion)
	if err != nil {
		return err
	}
	status, info, err := ParseStatus(resp, tag)
	if err != nil {
		return err
	}
	if status != StatusOK {
		return eris.Wrapf(ErrFetch, "SEARCH: %s", info)
	}

	uids := ParseSearch(resp)

	downloaded := 0
	present := 0
	for _, uid := range uids {
		msgStatus, err := c.store.Classify(uid, c.account, c.cfg.Mailbox)
		if err != nil {
			return err
		}
		if msgStatus == store.Full || (msgStatus == store.HeadersOnly && c.cfg.HeadersOnly) {
			present++
			c.rec.MessageSkipped(c.cfg.Mailbox)
			continue
		}

		body, err := c.downloadMessage(uid)
		if err != nil {
			return err
		}
		if err := c.store.Save(body, uid, c.account, c.cfg.Mailbox); err != nil {
			return err
		}
		c.rec.MessageDownloaded(c.cfg.Mailbox, int64(len(body)))
		downloaded++
	}

	c.summary = Summary{
		Downloaded:     downloaded,
		AlreadyPresent: present,
		OnlyNew:        c.cfg.OnlyNew,
		HeadersOnly:    c.cfg.HeadersOnly,
		Mailbox:        c.cfg.Mailbox,
	}
	fmt.Fprintln(c.Out, c.summary.String())

	c.state = StateLoggedOut
	return nil
}

// downloadMessage fetches one message body (or header block). A transient
// transport failure is retried exactly once with the same tag; any second
// failure is fatal for the session.
func (c *Client) downloadMessage(uid int) ([]byte, error) {
	item := "BODY[]"
	if c.cfg.HeadersOnly {
		item = "BODY[HEADER]"
	}
	command := fmt.Sprintf("UID FETCH %d %s", uid, item)

	tag, resp, err := c.exchange(command)
	if err != nil {
		if !eris.Is(err, transport.ErrTransport) && !eris.Is(err, transport.ErrTimeout) {
			return nil, err
		}
		log.Printf("WARN: fetch UID %d: %v, retrying once", uid, err)
		tag, resp, err = c.exchange(command)
		if err != nil {
			return nil, err
		}
	}

	status, info, err := ParseStatus(resp, tag)
	if err != nil {
		return nil, err
	}
	if status != StatusOK {
		return nil, eris.Wrapf(ErrFetch, "UID %d: %s", uid, info)
	}
	return ParseFetchBody(resp)
}

// exchange sends one tagged command and waits for its complete response.
// The tag counter advances only after the tagged response arrives, so a
// retried command reuses its tag.
func (c *Client) exchange(command string) (tag, response string, err error) {
	tag = fmt.Sprintf("A%d", c.tag)
	if err := c.conn.WriteAll([]byte(tag + " " + command + "\r\n")); err != nil {
		return tag, "", err
	}
	verb, _, _ := strings.Cut(command, " ")
	c.rec.CommandSent(verb)

	response, err = c.rd.response(tag)
	if err != nil {
		return tag, "", err
	}
	c.tag++
	return tag, response, nil
}

// shutdown attempts a best-effort LOGOUT and always releases the
// connection. Secondary errors are swallowed.
func (c *Client) shutdown() {
	if c.conn == nil {
		c.state = StateLoggedOut
		return
	}
	tag := fmt.Sprintf("A%d", c.tag)
	if err := c.conn.WriteAll([]byte(tag + " LOGOUT\r\n")); err == nil {
		c.rec.CommandSent("LOGOUT")
		c.rd.response(tag)
	}
	c.conn.Close()
	c.conn = nil
	c.state = StateLoggedOut
}
