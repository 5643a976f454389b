// Package config holds the server settings, read from flags and TEXRACE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/crypto/bcrypt"
)

const EnvPrefix = "TEXRACE"

type Config struct {
	Bind      string
	Port      int
	PublicURL string
	Verbose   bool

	ProblemsFile    string
	DefaultDuration time.Duration
	EnforceDeadline bool
	IdleTimeout     time.Duration

	RendererURL     string
	RenderTimeout   time.Duration
	RenderCacheSize int

	DatabaseURL string
	ResultsDir  string

	TicketTTL      time.Duration
	BcryptCost     int
	MaxImageBytes  int
	MaxImagePixels int
	OriginPatterns []string

	ShutdownTimeout time.Duration
}

func (c *Config) Validate() error {
	var err error
	if c.Port < 1 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port))
	}
	if c.PublicURL != "" {
		if u, perr := url.Parse(c.PublicURL); perr != nil || u.Scheme == "" || u.Host == "" {
			err = multierr.Append(err, fmt.Errorf("invalid public url: %q", c.PublicURL))
		}
	}
	if c.RendererURL != "" {
		if u, perr := url.Parse(c.RendererURL); perr != nil || u.Scheme == "" || u.Host == "" {
			err = multierr.Append(err, fmt.Errorf("invalid renderer url: %q", c.RendererURL))
		}
	}
	if c.DefaultDuration <= 0 {
		err = multierr.Append(err, errors.New("default duration must be positive"))
	}
	if c.TicketTTL <= 0 {
		err = multierr.Append(err, errors.New("ticket ttl must be positive"))
	}
	if c.RenderTimeout <= 0 {
		err = multierr.Append(err, errors.New("render timeout must be positive"))
	}
	if c.IdleTimeout < 0 {
		err = multierr.Append(err, errors.New("idle timeout cannot be negative"))
	}
	if c.RenderCacheSize < 0 {
		err = multierr.Append(err, errors.New("render cache size cannot be negative"))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		err = multierr.Append(err, fmt.Errorf("bcrypt cost must be between %d and %d: %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost))
	}
	if c.MaxImageBytes <= 0 || c.MaxImagePixels <= 0 {
		err = multierr.Append(err, errors.New("image limits must be positive"))
	}
	if c.DatabaseURL == "" && c.ResultsDir == "" {
		err = multierr.Append(err, errors.New("one of --database-url or --results-dir is required"))
	}
	return err
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// JoinURL is the page a QR code for lobbyID points at.
func (c *Config) JoinURL(lobbyID string) string {
	base := c.PublicURL
	if base == "" {
		host := c.Bind
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		base = "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port))
	}
	return strings.TrimSuffix(base, "/") + "/?l=" + url.QueryEscape(lobbyID)
}

// LoadDotEnv reads the given .env files (".env" when none are named).
// Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// NewCommand builds the root command. Flags fall back to TEXRACE_* variables.
func NewCommand(cfg *Config, version string, run func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "texrace",
		Short:   "Multiplayer LaTeX typesetting race server.",
		Args:    cobra.ExactArgs(0),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: TEXRACE_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: TEXRACE_PORT)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "externally visible base url used in join links (env: TEXRACE_PUBLIC_URL)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "development logging (env: TEXRACE_VERBOSE)")

	fs.StringVar(&cfg.ProblemsFile, "problems-file", "", "problem catalog json, built-in catalog if empty (env: TEXRACE_PROBLEMS_FILE)")
	fs.DurationVar(&cfg.DefaultDuration, "default-duration", 10*time.Minute, "game length when the owner does not choose one (env: TEXRACE_DEFAULT_DURATION)")
	fs.BoolVar(&cfg.EnforceDeadline, "enforce-deadline", true, "end games when their time is up (env: TEXRACE_ENFORCE_DEADLINE)")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", 30*time.Minute, "close lobbies nobody is connected to, 0 disables (env: TEXRACE_IDLE_TIMEOUT)")

	fs.StringVar(&cfg.RendererURL, "renderer-url", "", "LaTeX rendering service, clients send goal images if empty (env: TEXRACE_RENDERER_URL)")
	fs.DurationVar(&cfg.RenderTimeout, "render-timeout", 5*time.Second, "timeout for one goal render (env: TEXRACE_RENDER_TIMEOUT)")
	fs.IntVar(&cfg.RenderCacheSize, "render-cache-size", 256, "goal renderings kept in memory (env: TEXRACE_RENDER_CACHE_SIZE)")

	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres dsn for results, file store if empty (env: TEXRACE_DATABASE_URL)")
	fs.StringVar(&cfg.ResultsDir, "results-dir", "logs", "directory for result files (env: TEXRACE_RESULTS_DIR)")

	fs.DurationVar(&cfg.TicketTTL, "ticket-ttl", time.Minute, "lifetime of a login ticket (env: TEXRACE_TICKET_TTL)")
	fs.IntVar(&cfg.BcryptCost, "bcrypt-cost", bcrypt.DefaultCost, "bcrypt cost for player passwords (env: TEXRACE_BCRYPT_COST)")
	fs.IntVar(&cfg.MaxImageBytes, "max-image-bytes", 2<<20, "largest accepted submission image (env: TEXRACE_MAX_IMAGE_BYTES)")
	fs.IntVar(&cfg.MaxImagePixels, "max-image-pixels", 4096*4096, "largest accepted submission area (env: TEXRACE_MAX_IMAGE_PIXELS)")
	fs.StringSliceVar(&cfg.OriginPatterns, "origin", nil, "allowed websocket origins (env: TEXRACE_ORIGIN)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for open requests on shutdown (env: TEXRACE_SHUTDOWN_TIMEOUT)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("texrace v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
