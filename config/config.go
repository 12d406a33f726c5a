package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every flag name when it is read from the
// environment, e.g. MBOX_CONTACTS_IMAP_HOST.
const EnvPrefix = "MBOX_CONTACTS"

// Config captures all options required to harvest an address book.
type Config struct {
	MboxPath           string   `mapstructure:"mbox"`
	IMAPHost           string   `mapstructure:"imap-host"`
	IMAPPort           int      `mapstructure:"imap-port"`
	IMAPUser           string   `mapstructure:"imap-user"`
	IMAPPass           string   `mapstructure:"imap-pass"`
	UseTLS             bool     `mapstructure:"use-tls"`
	InsecureSkipVerify bool     `mapstructure:"insecure-skip-verify"`
	Folder             string   `mapstructure:"folder"`
	StateDir           string   `mapstructure:"state-dir"`
	DryRun             bool     `mapstructure:"dry-run"`
	LogLevel           string   `mapstructure:"log-level"`
	LogDir             string   `mapstructure:"log-dir"`
	IncludeHeader      []string `mapstructure:"include-header"`
	IncludeBody        []string `mapstructure:"include-body"`
	ExcludeHeader      []string `mapstructure:"exclude-header"`
	ExcludeBody        []string `mapstructure:"exclude-body"`
	IncludeAddress     []string `mapstructure:"include-address"`
	ExcludeAddress     []string `mapstructure:"exclude-address"`
}

const (
	SourceMbox = "mbox"
	SourceIMAP = "imap"
)

// Source names the configured message source.
func (c Config) Source() string {
	if c.IMAPHost != "" {
		return SourceIMAP
	}
	return SourceMbox
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := DefaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("config", "", "Optional config file (yaml, json or toml) with the same keys as the flags")
	flags.String("mbox", "", "Path to an .mbox file or a directory of mbox files")
	flags.String("imap-host", "", "IMAP server hostname to read envelopes from")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("folder", "INBOX", "IMAP folder to scan")
	flags.String("state-dir", defaultStateDir, "Directory for the address book and incremental scan state")
	flags.Bool("dry-run", false, "Scan and emit stats without writing state files")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	flags.StringArray("include-address", nil, "Regex allow-list applied to participant emails and decoded names")
	flags.StringArray("exclude-address", nil, "Regex block-list applied to participant emails and decoded names")

	cmd.MarkFlagsMutuallyExclusive("mbox", "imap-host")
	return nil
}

// LoadConfig resolves the parsed Cobra flags, the environment and an optional
// config file into a validated Config. Flags win over the environment, which
// wins over the file.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	// Patterns may contain commas, so they are read from the flag set directly
	// instead of through viper's CSV split.
	for name, target := range map[string]*[]string{
		"include-header":  &cfg.IncludeHeader,
		"include-body":    &cfg.IncludeBody,
		"exclude-header":  &cfg.ExcludeHeader,
		"exclude-body":    &cfg.ExcludeBody,
		"include-address": &cfg.IncludeAddress,
		"exclude-address": &cfg.ExcludeAddress,
	} {
		values, err := patterns(v, flags, name)
		if err != nil {
			return Config{}, err
		}
		*target = values
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	if cfg.StateDir == "" {
		dir, err := DefaultStateDir()
		if err != nil {
			return Config{}, err
		}
		cfg.StateDir = dir
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)
	cfg.LogLevel = NormalizeLogLevel(cfg.LogLevel)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func patterns(v *viper.Viper, flags *pflag.FlagSet, name string) ([]string, error) {
	if flags.Changed(name) {
		return flags.GetStringArray(name)
	}
	if _, ok := os.LookupEnv(EnvName(name)); ok || v.InConfig(name) {
		return v.GetStringSlice(name), nil
	}
	return nil, nil
}

// EnvName returns the environment variable that overrides flag.
func EnvName(flag string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// NormalizeLogLevel lowercases level and maps "warning" to "warn".
func NormalizeLogLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return "warn"
	}
	return level
}

var ErrNoSource = errors.New("one of --mbox or --imap-host is required")

// Validate checks cross-field rules that the flag parser cannot express.
func Validate(cfg Config) error {
	if cfg.MboxPath == "" && cfg.IMAPHost == "" {
		return ErrNoSource
	}
	if cfg.MboxPath != "" && cfg.IMAPHost != "" {
		return fmt.Errorf("--mbox and --imap-host are mutually exclusive")
	}

	if cfg.IMAPHost != "" {
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass, %s_IMAP_PASS or IMAP_PASS", EnvPrefix)
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}
	if (includeActive || excludeActive) && cfg.IMAPHost != "" {
		return fmt.Errorf("header and body filters need the raw message and only work with --mbox")
	}
	if len(cfg.IncludeAddress) > 0 && len(cfg.ExcludeAddress) > 0 {
		return fmt.Errorf("--include-address and --exclude-address are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// DefaultStateDir is ~/.mbox-contacts/state.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mbox-contacts", "state"), nil
}
