// imapcl is a single-shot IMAP4rev1 mail-retrieval client. It connects to a
// server (optionally over TLS), logs in, opens one mailbox, and downloads
// messages into a local directory tree, reconciling against UIDVALIDITY and
// skipping messages already present.
//
// Usage:
//
//	imapcl <server_address> -a <auth_file> -o <output_dir> [options]
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rotisserie/eris"

	"github.com/7dix/IMAP-Client/internal/auth"
	"github.com/7dix/IMAP-Client/internal/imap"
	"github.com/7dix/IMAP-Client/internal/metrics"
	"github.com/7dix/IMAP-Client/internal/options"
	"github.com/7dix/IMAP-Client/internal/state"
	"github.com/7dix/IMAP-Client/internal/store"
	"github.com/7dix/IMAP-Client/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := options.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "imapcl: %v\n", err)
		fmt.Fprint(stderr, options.Usage())
		return 1
	}

	creds, err := auth.Read(opts.AuthFile)
	if err != nil {
		fmt.Fprintf(stderr, "imapcl: %v\n", err)
		return 1
	}

	rec := &metrics.NoopRecorder{}
	mailStore := store.New(opts.OutputDir)

	// Run history is bookkeeping only; never fail the session over it.
	var runLog *state.DB
	var runRecord *state.Run
	if db, err := state.Open(opts.OutputDir); err != nil {
		log.Printf("WARN: run history unavailable: %v", err)
	} else {
		runLog = db
		defer runLog.Close()
		if r, err := runLog.CreateRun(creds.Username, opts.Mailbox); err != nil {
			log.Printf("WARN: record run: %v", err)
		} else {
			runRecord = r
		}
	}

	client := imap.NewClient(imap.Config{
		Transport: transport.Config{
			Host:      opts.Server,
			Port:      opts.Port,
			UseTLS:    opts.UseTLS,
			TrustFile: opts.TrustFile,
			TrustDir:  opts.TrustDir,
		},
		Mailbox:     opts.Mailbox,
		OnlyNew:     opts.OnlyNew,
		HeadersOnly: opts.HeadersOnly,
	}, mailStore, rec)
	client.Out = stdout

	summary, err := client.Run(creds)

	if runLog != nil && runRecord != nil {
		if logErr := runLog.FinishRun(runRecord, summary.Downloaded, err); logErr != nil {
			log.Printf("WARN: record run outcome: %v", logErr)
		}
	}

	if err != nil {
		rec.SessionFailed(errKind(err))
		fmt.Fprintf(stderr, "imapcl: %v\n", err)
		return 1
	}
	return 0
}

// errKind maps an error to its taxonomy name.
func errKind(err error) string {
	switch {
	case eris.Is(err, options.ErrArgument):
		return "argument"
	case eris.Is(err, auth.ErrAuthFile):
		return "authfile"
	case eris.Is(err, transport.ErrTimeout):
		return "timeout"
	case eris.Is(err, transport.ErrClosedByPeer):
		return "closed"
	case eris.Is(err, transport.ErrTransport):
		return "transport"
	case eris.Is(err, imap.ErrAuth):
		return "auth"
	case eris.Is(err, imap.ErrSelect):
		return "select"
	case eris.Is(err, imap.ErrFetch):
		return "fetch"
	case eris.Is(err, imap.ErrProtocol):
		return "protocol"
	case eris.Is(err, store.ErrStorage):
		return "storage"
	}
	return "error"
}
