package imap

import "github.com/rotisserie/eris"

// Error kinds raised by the protocol layer. Transport-level kinds
// (transport.ErrTransport, ErrTimeout, ErrClosedByPeer) pass through
// unchanged.
var (
	// ErrProtocol covers malformed responses, truncated literals, a missing
	// UIDVALIDITY, an unknown greeting, and an exceeded read budget.
	ErrProtocol = eris.New("protocol error")

	// ErrAuth is a tagged NO/BAD on LOGIN.
	ErrAuth = eris.New("login failed")

	// ErrSelect is a tagged NO/BAD on SELECT.
	ErrSelect = eris.New("mailbox select failed")

	// ErrFetch is a tagged NO/BAD on SEARCH or FETCH, after the single
	// allowed retry for transient transport errors.
	ErrFetch = eris.New("fetch failed")
)
