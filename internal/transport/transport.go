// Package transport provides the byte-level connection to an IMAP server,
// over plain TCP or implicit TLS. It owns dialing, host resolution, the TLS
// trust store, and the timed read primitive. Buffering beyond a single read
// is the response reader's job, not ours.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Error kinds surfaced by the transport.
var (
	// ErrTransport covers resolution, connect, TLS handshake, and socket I/O failures.
	ErrTransport = eris.New("transport error")

	// ErrTimeout is returned when a read produced no data within the deadline.
	ErrTimeout = eris.New("timeout waiting for server data")

	// ErrClosedByPeer is returned on orderly shutdown (EOF / TLS close-notify).
	ErrClosedByPeer = eris.New("server closed connection")
)

// DefaultTrustDir is used when TLS is enabled and no trust anchors were configured.
const DefaultTrustDir = "/etc/ssl/certs"

// readBufferSize is the most a single ReadSome returns.
const readBufferSize = 4096

// dialTimeout bounds the TCP connect to a single resolved address.
const dialTimeout = 30 * time.Second

// Conn is the capability set the reader and session driver need from a
// connection. Both the plain and the TLS transports satisfy it.
type Conn interface {
	// WriteAll writes the entire buffer or fails with ErrTransport.
	WriteAll(p []byte) error

	// ReadSome reads up to one buffer's worth of bytes, blocking at most
	// timeout. Benign interruptions are retried internally; deadline expiry
	// fails with ErrTimeout, orderly shutdown with ErrClosedByPeer.
	ReadSome(timeout time.Duration) ([]byte, error)

	Close() error
}

// Config describes where and how to connect.
type Config struct {
	Host      string
	Port      int
	UseTLS    bool
	TrustFile string // PEM bundle; optional
	TrustDir  string // directory of PEM files; optional, DefaultTrustDir when TLS is on and nothing else is set
}

var ipv4Literal = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

// Dial opens a connection per cfg. Dotted-quad hosts are used directly;
// anything else is resolved for both address families and the results tried
// in order. With UseTLS the handshake (including certificate verification
// against the configured trust anchors) completes before Dial returns.
func Dial(cfg Config) (Conn, error) {
	port := strconv.Itoa(cfg.Port)

	var addrs []string
	if ipv4Literal.MatchString(cfg.Host) {
		addrs = []string{cfg.Host}
	} else {
		resolved, err := net.LookupHost(cfg.Host)
		if err != nil {
			return nil, eris.Wrapf(ErrTransport, "resolve %s: %v", cfg.Host, err)
		}
		addrs = resolved
	}

	var tcp net.Conn
	var lastErr error
	for _, addr := range addrs {
		c, err := net.DialTimeout("tcp", net.JoinHostPort(addr, port), dialTimeout)
		if err == nil {
			tcp = c
			break
		}
		lastErr = err
	}
	if tcp == nil {
		return nil, eris.Wrapf(ErrTransport, "connect %s:%s: %v", cfg.Host, port, lastErr)
	}

	if !cfg.UseTLS {
		return &conn{c: tcp}, nil
	}

	roots, err := loadTrustStore(cfg.TrustFile, cfg.TrustDir)
	if err != nil {
		tcp.Close()
		return nil, err
	}
	tlsConn := tls.Client(tcp, &tls.Config{
		ServerName: cfg.Host,
		RootCAs:    roots,
	})
	if err := tlsConn.Handshake(); err != nil {
		tcp.Close()
		return nil, eris.Wrapf(ErrTransport, "TLS handshake with %s: %v", cfg.Host, err)
	}
	return &conn{c: tlsConn}, nil
}

// loadTrustStore builds the verification pool from a PEM file and/or a
// directory of PEM files. At least one anchor must load.
func loadTrustStore(trustFile, trustDir string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	loaded := false

	if trustFile != "" {
		pem, err := os.ReadFile(trustFile)
		if err != nil {
			return nil, eris.Wrapf(ErrTransport, "read trust file %s: %v", trustFile, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, eris.Wrapf(ErrTransport, "no certificates in trust file %s", trustFile)
		}
		loaded = true
	}

	if trustDir == "" && trustFile == "" {
		trustDir = DefaultTrustDir
	}
	if trustDir != "" {
		entries, err := os.ReadDir(trustDir)
		if err != nil {
			if trustFile == "" {
				return nil, eris.Wrapf(ErrTransport, "read trust dir %s: %v", trustDir, err)
			}
		} else {
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				pem, err := os.ReadFile(filepath.Join(trustDir, e.Name()))
				if err != nil {
					continue
				}
				if pool.AppendCertsFromPEM(pem) {
					loaded = true
				}
			}
		}
	}

	if !loaded {
		return nil, eris.Wrapf(ErrTransport, "no usable trust anchors (file=%q dir=%q)", trustFile, trustDir)
	}
	return pool, nil
}

// conn adapts a net.Conn (plain TCP or *tls.Conn) to the Conn capability set.
// crypto/tls retries its own want-read/want-write conditions internally, and
// the runtime restarts EINTR, so ReadSome only has to classify the outcome.
type conn struct {
	c net.Conn
}

func (t *conn) WriteAll(p []byte) error {
	// net.Conn.Write already loops until the full buffer is written or an
	// error occurs.
	if _, err := t.c.Write(p); err != nil {
		return eris.Wrapf(ErrTransport, "write: %v", err)
	}
	return nil
}

func (t *conn) ReadSome(timeout time.Duration) ([]byte, error) {
	if err := t.c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, eris.Wrapf(ErrTransport, "set deadline: %v", err)
	}

	buf := make([]byte, readBufferSize)
	n, err := t.c.Read(buf)
	if n > 0 {
		// Data beats error; a terminal condition resurfaces on the next read.
		return buf[:n], nil
	}
	if err == nil {
		return nil, eris.Wrap(ErrTransport, "empty read")
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return nil, eris.Wrapf(ErrTimeout, "no data within %s", timeout)
	}
	if err == io.EOF {
		return nil, ErrClosedByPeer
	}
	return nil, eris.Wrapf(ErrTransport, "read: %v", err)
}

func (t *conn) Close() error {
	return t.c.Close()
}
