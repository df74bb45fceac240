// Package config parses and validates the command line.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Config holds everything the bot needs at startup.
type Config struct {
	// Token is the Telegram bot token (positional argument).
	Token string

	// Database is the path to the JSON snapshot.
	// Default: ./rssbot.json
	Database string

	// MinInterval is the lower bound of the poll interval in seconds
	// and the cadence of the scheduler tick. Default: 300
	MinInterval uint32

	// MaxInterval is the upper bound of the poll interval in seconds.
	// Default: 43200
	MaxInterval uint32

	// MaxFeedSize caps feed documents in bytes; 0 means unlimited.
	// Default: 2 MiB
	MaxFeedSize uint64

	// Admins, when non-empty, restricts commands to these user ids.
	Admins []int64

	// Restricted limits group commands to group administrators.
	Restricted bool

	// APIURI is the Bot API server. Default: https://api.telegram.org/
	APIURI string

	// Insecure disables TLS certificate verification for feed fetches.
	Insecure bool

	// MetricsAddr is the listen address of the /metrics and /health
	// server. Empty disables it. Default: :9090
	MetricsAddr string
}

// int64List collects a repeatable int64 flag.
type int64List []int64

func (l *int64List) String() string {
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

func (l *int64List) Set(s string) error {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("not a user id: %q", s)
	}
	*l = append(*l, v)
	return nil
}

// Parse reads the command line. args is os.Args[1:]; output receives
// usage text.
func Parse(args []string, output io.Writer) (*Config, error) {
	cfg := &Config{}
	var admins int64List

	fs := flag.NewFlagSet("rssbot", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintln(output, "Usage: rssbot [flags] <token>")
		fmt.Fprintln(output, "A Telegram RSS bot.")
		fs.PrintDefaults()
	}
	fs.StringVar(&cfg.Database, "d", "./rssbot.json", "path to the database file (shorthand)")
	fs.StringVar(&cfg.Database, "database", "./rssbot.json", "path to the database file")
	minInterval := fs.Uint("min-interval", 300, "minimum fetch interval in seconds")
	maxInterval := fs.Uint("max-interval", 43200, "maximum fetch interval in seconds")
	fs.Uint64Var(&cfg.MaxFeedSize, "max-feed-size", 2*1024*1024, "maximum feed size in bytes, 0 for unlimited")
	fs.Var(&admins, "admin", "user id allowed to manage the bot (repeatable)")
	fs.BoolVar(&cfg.Restricted, "restricted", false, "only group admins can use commands in groups")
	fs.StringVar(&cfg.APIURI, "api-uri", "https://api.telegram.org/", "custom Bot API server")
	fs.BoolVar(&cfg.Insecure, "insecure", false, "skip TLS certificate verification for feeds")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "metrics/health listen address, empty to disable")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.MinInterval = uint32(*minInterval)
	cfg.MaxInterval = uint32(*maxInterval)
	cfg.Admins = admins

	switch fs.NArg() {
	case 0:
		return nil, errors.New("missing bot token")
	case 1:
		cfg.Token = fs.Arg(0)
	default:
		return nil, fmt.Errorf("unexpected argument: %q", fs.Arg(1))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate aggregates every problem so the user sees them all at once.
func (c *Config) validate() error {
	var problems []error
	if c.Token == "" {
		problems = append(problems, errors.New("bot token is empty"))
	}
	if c.MinInterval < 1 {
		problems = append(problems, errors.New("min-interval must be at least 1"))
	}
	if c.MaxInterval < c.MinInterval {
		problems = append(problems, errors.New("max-interval must not be lower than min-interval"))
	}
	if c.APIURI == "" {
		problems = append(problems, errors.New("api-uri is empty"))
	} else if !strings.HasPrefix(c.APIURI, "http://") && !strings.HasPrefix(c.APIURI, "https://") {
		problems = append(problems, fmt.Errorf("api-uri must be an http(s) URL: %q", c.APIURI))
	}
	return errors.Join(problems...)
}
