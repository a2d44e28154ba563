// Package config loads dongle settings from defaults, a YAML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ha1tch/dongle/pkg/conn"
	"github.com/ha1tch/dongle/pkg/dongle"
	dgerrors "github.com/ha1tch/dongle/pkg/errors"
	"github.com/ha1tch/dongle/pkg/log"
)

// EnvPrefix marks environment variables read by Load. A double underscore
// separates nested keys: DONGLE_LOG__LEVEL sets log.level.
const EnvPrefix = "DONGLE_"

// DefaultFiles are searched in the working directory when no file is given.
var DefaultFiles = []string{"dongle.yaml", "dongle.yml"}

// DefaultDebounce is the watch debounce used when none is configured.
const DefaultDebounce = 100 * time.Millisecond

// flagKeys maps flag names to config keys. Flags not listed are ignored.
var flagKeys = map[string]string{
	"driver":       "driver",
	"dsn":          "dsn",
	"table-prefix": "table_prefix",
	"strict":       "strict",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"debounce":     "watch.debounce",
}

// Config is the resolved configuration.
type Config struct {
	Driver      string      `koanf:"driver"`
	DSN         string      `koanf:"dsn"`
	TablePrefix string      `koanf:"table_prefix"`
	Strict      bool        `koanf:"strict"`
	Log         LogConfig   `koanf:"log"`
	Watch       WatchConfig `koanf:"watch"`

	// File is the config file that was read, empty if none.
	File string `koanf:"-"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	Debounce time.Duration `koanf:"debounce"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"driver":         "mysql",
		"dsn":            "",
		"table_prefix":   "",
		"strict":         true,
		"log.level":      "info",
		"log.format":     "text",
		"watch.debounce": DefaultDebounce.String(),
	}
}

// Load resolves the configuration. An explicit cfgFile must exist; otherwise
// the first of DefaultFiles present in the working directory is used. flags
// may be nil; only flags that were set override other sources.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, dgerrors.Wrap(err, dgerrors.ErrCodeConfigParse, "failed to load defaults").Err()
	}

	// 2. Config file
	path, err := findConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, dgerrors.Wrap(err, dgerrors.ErrCodeConfigParse, "error reading config file").
				WithField("file", path).
				Err()
		}
	}

	// 3. Environment: DONGLE_TABLE_PREFIX -> table_prefix, DONGLE_LOG__LEVEL -> log.level
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, dgerrors.Wrap(err, dgerrors.ErrCodeConfigParse, "failed to load environment").Err()
	}

	// 4. Flags that were explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, dgerrors.Wrap(err, dgerrors.ErrCodeConfigParse, "failed to load flags").Err()
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, dgerrors.Wrap(err, dgerrors.ErrCodeConfigParse, "unable to decode config").Err()
	}
	cfg.File = path
	return &cfg, nil
}

func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", dgerrors.Wrap(err, dgerrors.ErrCodeConfigMissing, "config file not found").
				WithField("file", explicit).
				Err()
		}
		return explicit, nil
	}
	for _, name := range DefaultFiles {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", nil
}

// Validate checks the values that can be checked without a database.
func (c *Config) Validate() error {
	if _, err := dongle.ParseDialect(c.Driver); err != nil {
		return dgerrors.Wrap(err, dgerrors.ErrCodeConfigValidation, "unsupported driver").
			WithField("driver", c.Driver).
			Err()
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return dgerrors.InvalidConfig("log.level", err.Error()).Err()
	}
	if _, err := log.ParseFormat(c.Log.Format); err != nil {
		return dgerrors.InvalidConfig("log.format", err.Error()).Err()
	}
	if c.Watch.Debounce < 0 {
		return dgerrors.InvalidConfig("watch.debounce", "must not be negative").Err()
	}
	return nil
}

// Dialect returns the configured dialect, or the reference dialect when the
// driver is not recognised.
func (c *Config) Dialect() dongle.Dialect {
	d, _ := dongle.ParseDialect(c.Driver)
	return d
}

// ConnConfig returns the connection settings.
func (c *Config) ConnConfig() conn.Config {
	cc := conn.Config{
		Driver:      c.Driver,
		DSN:         c.DSN,
		TablePrefix: c.TablePrefix,
		Strict:      c.Strict,
	}
	if c.Dialect() == dongle.DialectSQLite {
		cc.MaxOpenConns = 1
		cc.MaxIdleConns = 1
	}
	return cc
}

// Logger builds a logger writing to out.
func (c *Config) Logger(out io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, dgerrors.InvalidConfig("log.level", err.Error()).Err()
	}
	format, err := log.ParseFormat(c.Log.Format)
	if err != nil {
		return nil, dgerrors.InvalidConfig("log.format", err.Error()).Err()
	}
	return log.New(log.Config{
		DefaultLevel: level,
		Output:       out,
		Format:       format,
	}), nil
}
