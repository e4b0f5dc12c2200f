// Package config holds the runtime configuration of the bb84 command:
// defaults, then BB84_* environment overrides, then command-line flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/alan-christopher/bb84chat/bb84"
	"github.com/alan-christopher/bb84chat/bb84/entropy"
	"github.com/alan-christopher/bb84chat/internal/exchange"
)

// Config is the runtime configuration.
type Config struct {
	Addr         string        // HTTP listen address
	SessionTTL   time.Duration // lifetime of an idle exchange
	ReapInterval time.Duration
	MaxLength    int    // largest exchange a client may request, in qubits
	ExposeKey    bool   // return final keys to HTTP clients
	StoreDir     string // message store directory; empty keeps messages in memory
	LogLevel     string
	// Random selects the entropy source: "secure", "chacha:<seed>" or
	// "pseudo:<seed>".
	Random string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:         ":8080",
		SessionTTL:   exchange.DefaultSessionTTL,
		ReapInterval: exchange.DefaultReapInterval,
		MaxLength:    exchange.DefaultMaxLength,
		LogLevel:     "info",
		Random:       "secure",
	}
}

// FromEnv returns Default overridden by any BB84_* variables present in the
// environment.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	if v, ok := lookup("BB84_ADDR"); ok {
		c.Addr = v
	}
	if v, ok := lookup("BB84_SESSION_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("BB84_SESSION_TTL: %w", err)
		}
		c.SessionTTL = d
	}
	if v, ok := lookup("BB84_MAX_LENGTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("BB84_MAX_LENGTH: %w", err)
		}
		c.MaxLength = n
	}
	if v, ok := lookup("BB84_EXPOSE_KEY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("BB84_EXPOSE_KEY: %w", err)
		}
		c.ExposeKey = b
	}
	if v, ok := lookup("BB84_STORE_DIR"); ok {
		c.StoreDir = v
	}
	if v, ok := lookup("BB84_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("BB84_RANDOM"); ok {
		c.Random = v
	}
	return c, c.Validate()
}

// RegisterFlags binds c's fields to fs, using c's current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address.")
	fs.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL, "How long an unfinished exchange may idle before it is aborted.")
	fs.DurationVar(&c.ReapInterval, "reap-interval", c.ReapInterval, "How often expired exchanges are swept.")
	fs.IntVar(&c.MaxLength, "max-length", c.MaxLength, "Largest exchange, in qubits, a client may request.")
	fs.BoolVar(&c.ExposeKey, "expose-key", c.ExposeKey, "Return final keys to clients. For demonstrations only.")
	fs.StringVar(&c.StoreDir, "store-dir", c.StoreDir, "Directory for received messages; empty keeps them in memory.")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn or error.")
	fs.StringVar(&c.Random, "random", c.Random, `Entropy source: "secure", "chacha:<seed>" or "pseudo:<seed>".`)
}

// Validate reports the first nonsensical setting.
func (c Config) Validate() error {
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive, got %v", c.SessionTTL)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("reap interval must be positive, got %v", c.ReapInterval)
	}
	if c.MaxLength <= 0 || c.MaxLength > bb84.MaxLength {
		return fmt.Errorf("max length must be in [1, %d], got %d", bb84.MaxLength, c.MaxLength)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.Source(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Source builds the entropy source named by Random.
func (c Config) Source() (entropy.Source, error) {
	kind, seed, _ := strings.Cut(c.Random, ":")
	switch kind {
	case "secure", "":
		return entropy.Secure, nil
	case "chacha":
		if seed == "" {
			return nil, fmt.Errorf("random source %q needs a seed", c.Random)
		}
		return entropy.NewChaCha([]byte(seed))
	case "pseudo":
		n, err := strconv.ParseUint(seed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("random source %q: %w", c.Random, err)
		}
		return entropy.NewPseudo(n), nil
	default:
		return nil, fmt.Errorf("unknown random source %q", c.Random)
	}
}

// ManagerOptions translates c into exchange manager options.
func (c Config) ManagerOptions(log *logrus.Entry) (exchange.Options, error) {
	src, err := c.Source()
	if err != nil {
		return exchange.Options{}, err
	}
	return exchange.Options{
		SessionTTL:   c.SessionTTL,
		ReapInterval: c.ReapInterval,
		MaxLength:    c.MaxLength,
		ExposeKey:    c.ExposeKey,
		Rand:         src,
		Logger:       log,
	}, nil
}
