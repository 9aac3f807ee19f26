// Package options parses the command-line surface of the client and the
// optional YAML defaults file. Precedence: explicit flags, then the defaults
// file, then built-in defaults.
package options

import (
	"flag"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ErrArgument covers malformed options and missing required inputs. The
// session never opens a connection after one of these.
var ErrArgument = eris.New("argument error")

// DefaultsEnv names a YAML defaults file used when -f is not given.
const DefaultsEnv = "IMAPCL_DEFAULTS"

// Options is the immutable configuration of one run.
type Options struct {
	Server      string
	Port        int
	UseTLS      bool
	TrustFile   string
	TrustDir    string
	OnlyNew     bool
	HeadersOnly bool
	AuthFile    string
	Mailbox     string
	OutputDir   string
}

// defaultsFile is the YAML shape of the -f / $IMAPCL_DEFAULTS file.
type defaultsFile struct {
	Server      string `yaml:"server"`
	Port        int    `yaml:"port"`
	TLS         bool   `yaml:"tls"`
	TrustFile   string `yaml:"trust_file"`
	TrustDir    string `yaml:"trust_dir"`
	OnlyNew     bool   `yaml:"only_new"`
	HeadersOnly bool   `yaml:"headers_only"`
	AuthFile    string `yaml:"auth_file"`
	Mailbox     string `yaml:"mailbox"`
	OutputDir   string `yaml:"output_dir"`
}

// Parse builds Options from the argument list (without the program name).
// The server address is positional and may come before or after the flags.
func Parse(args []string) (*Options, error) {
	var server string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		server = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("imapcl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	port := fs.Int("p", 0, "server port")
	useTLS := fs.Bool("T", false, "use implicit TLS")
	trustFile := fs.String("c", "", "TLS trust anchor file")
	trustDir := fs.String("C", "", "TLS trust anchor directory")
	onlyNew := fs.Bool("n", false, "only new messages")
	headersOnly := fs.Bool("h", false, "headers only")
	authFile := fs.String("a", "", "auth file path")
	mailbox := fs.String("b", "", "mailbox name")
	outputDir := fs.String("o", "", "output directory")
	defaults := fs.String("f", "", "YAML defaults file")

	if err := fs.Parse(args); err != nil {
		return nil, eris.Wrapf(ErrArgument, "%v", err)
	}

	if server == "" {
		server = fs.Arg(0)
		if fs.NArg() > 1 {
			return nil, eris.Wrapf(ErrArgument, "unexpected argument %q", fs.Arg(1))
		}
	} else if fs.NArg() > 0 {
		return nil, eris.Wrapf(ErrArgument, "unexpected argument %q", fs.Arg(0))
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	opts := &Options{Mailbox: "INBOX"}

	path := *defaults
	if path == "" {
		path = os.Getenv(DefaultsEnv)
	}
	if path != "" {
		if err := applyDefaultsFile(opts, path); err != nil {
			return nil, err
		}
	}

	if server != "" {
		opts.Server = server
	}
	if set["p"] {
		opts.Port = *port
	}
	if set["T"] {
		opts.UseTLS = *useTLS
	}
	if set["c"] {
		opts.TrustFile = *trustFile
	}
	if set["C"] {
		opts.TrustDir = *trustDir
	}
	if set["n"] {
		opts.OnlyNew = *onlyNew
	}
	if set["h"] {
		opts.HeadersOnly = *headersOnly
	}
	if set["a"] {
		opts.AuthFile = *authFile
	}
	if set["b"] {
		opts.Mailbox = *mailbox
	}
	if set["o"] {
		opts.OutputDir = *outputDir
	}

	if (set["c"] || set["C"]) && !opts.UseTLS {
		return nil, eris.Wrap(ErrArgument, "-c and -C require -T")
	}

	return opts, validate(opts, set["p"])
}

func applyDefaultsFile(opts *Options, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(ErrArgument, "read defaults file %s: %v", path, err)
	}
	var d defaultsFile
	if err := yaml.Unmarshal(data, &d); err != nil {
		return eris.Wrapf(ErrArgument, "parse defaults file %s: %v", path, err)
	}
	if d.Server != "" {
		opts.Server = d.Server
	}
	if d.Port != 0 {
		opts.Port = d.Port
	}
	opts.UseTLS = d.TLS
	if d.TrustFile != "" {
		opts.TrustFile = d.TrustFile
	}
	if d.TrustDir != "" {
		opts.TrustDir = d.TrustDir
	}
	opts.OnlyNew = d.OnlyNew
	opts.HeadersOnly = d.HeadersOnly
	if d.AuthFile != "" {
		opts.AuthFile = d.AuthFile
	}
	if d.Mailbox != "" {
		opts.Mailbox = d.Mailbox
	}
	if d.OutputDir != "" {
		opts.OutputDir = d.OutputDir
	}
	return nil
}

func validate(opts *Options, portSet bool) error {
	if opts.Server == "" {
		return eris.Wrap(ErrArgument, "server address is required")
	}
	if opts.AuthFile == "" {
		return eris.Wrap(ErrArgument, "-a is required")
	}
	if opts.OutputDir == "" {
		return eris.Wrap(ErrArgument, "-o is required")
	}

	switch {
	case opts.Port == 0 && !portSet:
		if opts.UseTLS {
			opts.Port = 993
		} else {
			opts.Port = 143
		}
	case opts.Port < 1 || opts.Port > 65535:
		return eris.Wrapf(ErrArgument, "port %d out of range (1-65535)", opts.Port)
	}

	return nil
}

// Usage returns the help text printed on argument errors.
func Usage() string {
	return `Usage: imapcl <server_address> [options]

Required:
  <server_address>    IMAP server address
  -a <auth_file>      Path to the authentication file
  -o <output_dir>     Directory where messages are stored

Optional:
  -p <port>           Server port (default 143, or 993 with -T)
  -T                  Use implicit TLS
    -c <trust_file>   TLS trust anchor file
    -C <trust_dir>    TLS trust anchor directory (default /etc/ssl/certs)
  -n                  Download only new messages
  -h                  Download headers only
  -b <mailbox>        Mailbox name, sent to the server as given (default INBOX)
  -f <file>           YAML defaults file (also $IMAPCL_DEFAULTS)
`
}
