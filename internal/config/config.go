package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/Tiliavir/nark/internal/timespec"
)

// Config is the root configuration for nark, stored in ~/.nark/config.json.
// The file supports single-line // comments for documentation purposes.
// Every key can be overridden from the environment, e.g. NARK_DB_PATH.
type Config struct {
	DB     DBConfig     `mapstructure:"db"`
	Time   TimeConfig   `mapstructure:"time"`
	Parser ParserConfig `mapstructure:"parser"`
	Log    LogConfig    `mapstructure:"log"`
}

// DBConfig locates the fact database.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// TimeConfig controls how facts are placed in time.
type TimeConfig struct {
	// AllowMomentaneous permits facts that start and end at the same second.
	AllowMomentaneous bool `mapstructure:"allow_momentaneous"`
	// FactMinDelta is the shortest closed fact accepted, in seconds.
	FactMinDelta int `mapstructure:"fact_min_delta"`
	// DayStart is the clock time ("HH:MM") at which a tracking day begins.
	DayStart string `mapstructure:"day_start"`
	// Timezone is the IANA zone for naive times. Empty = local time.
	Timezone string `mapstructure:"timezone"`
}

// ParserConfig tunes factoid parsing.
type ParserConfig struct {
	// SquashSep joins descriptions when a fact is squashed into the ongoing one.
	SquashSep string `mapstructure:"squash_sep"`
}

// LogConfig configures the stderr logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

const (
	// DefaultDayStart starts tracking days at midnight.
	DefaultDayStart = "00:00"
	// DefaultSquashSep separates squashed descriptions.
	DefaultSquashSep = "\n"
	// DefaultLogLevel only reports problems.
	DefaultLogLevel = "warn"
)

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON parsing,
// allowing human-readable documentation inside the file.
const configTemplate = `// nark configuration – ~/.nark/config.json
//
// All settings are optional; the built-in defaults shown below work out of
// the box. Any key can also be set from the environment, e.g.
// NARK_TIME_TIMEZONE=Europe/Berlin or NARK_LOG_LEVEL=debug.
{
  "db": {
    // SQLite database file. Empty = ~/.nark/nark.db
    "path": ""
  },

  "time": {
    // Allow facts whose start equals their end.
    "allow_momentaneous": false,

    // Shortest closed fact accepted, in seconds. 0 disables the check.
    "fact_min_delta": 0,

    // Clock time at which a tracking day begins, used by "nark list --today".
    "day_start": "00:00",

    // IANA timezone for times typed without a zone, e.g. "Europe/Berlin".
    // Leave empty to use the local timezone.
    "timezone": ""
  },

  "parser": {
    // Separator used when a fact is squashed into the ongoing fact.
    "squash_sep": "\n"
  },

  "log": {
    // One of "debug", "info", "warn", "error".
    "level": "warn",
    // Log JSON lines instead of the console format.
    "json": false
  }
}
`

// BaseDir returns the root data directory (~/.nark).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "cannot determine home directory")
	}
	return filepath.Join(home, ".nark"), nil
}

// configFilePath returns the path to ~/.nark/config.json.
func configFilePath() (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "config.json"), nil
}

// SetDefaults registers the built-in value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db.path", "")
	v.SetDefault("time.allow_momentaneous", false)
	v.SetDefault("time.fact_min_delta", 0)
	v.SetDefault("time.day_start", DefaultDayStart)
	v.SetDefault("time.timezone", "")
	v.SetDefault("parser.squash_sep", DefaultSquashSep)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", false)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("NARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	v.SetConfigType("json")
	return v
}

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads the config file at path, or ~/.nark/config.json when path is
// empty. The default file is created with annotated defaults on first run;
// an explicitly named file must exist. Environment variables override the
// file, and the result is validated.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := configFilePath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	v := newViper()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err) && !explicit:
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
	case err != nil:
		return Config{}, errors.Wrapf(err, "reading config file %s", path)
	default:
		if err := v.ReadConfig(bytes.NewReader(stripLineComments(data))); err != nil {
			return Config{}, errors.WithHint(
				errors.Wrapf(err, "parsing config file %s", path),
				"Delete the file to regenerate defaults.")
		}
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decoding config")
	}
	if cfg.DB.Path == "" {
		base, err := BaseDir()
		if err != nil {
			return Config{}, err
		}
		cfg.DB.Path = filepath.Join(base, "nark.db")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that are parsed lazily by the accessors.
func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.DayStart(); err != nil {
		return err
	}
	if c.Time.FactMinDelta < 0 {
		return errors.Newf("time.fact_min_delta must not be negative, got %d", c.Time.FactMinDelta)
	}
	return nil
}

// Location resolves time.timezone; empty means time.Local.
func (c Config) Location() (*time.Location, error) {
	if c.Time.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Time.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "time.timezone %q", c.Time.Timezone)
	}
	return loc, nil
}

// DayStart parses time.day_start.
func (c Config) DayStart() (timespec.Clock, error) {
	if c.Time.DayStart == "" {
		return timespec.Clock{}, nil
	}
	clk, err := timespec.ParseClock(c.Time.DayStart)
	if err != nil {
		return timespec.Clock{}, errors.Wrapf(err, "time.day_start %q", c.Time.DayStart)
	}
	return clk, nil
}

// MinDelta is time.fact_min_delta as a duration.
func (c Config) MinDelta() time.Duration {
	return time.Duration(c.Time.FactMinDelta) * time.Second
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "creating config directory")
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return errors.Wrap(err, "writing default config")
	}
	return nil
}
