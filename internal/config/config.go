// Package config loads the server configuration.
//
// Sources are applied in order, later ones overriding earlier ones:
// built-in defaults, the YAML file, TEAMX_* environment variables, and
// command-line flags that were set explicitly.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/teamx/teamx-server/internal/logging"
)

const CodeInvalid = "INVALID_CONFIG"

const EnvPrefix = "TEAMX_"

type Config struct {
	Server      ServerConfig      `koanf:"server" envPrefix:"SERVER_"`
	Save        SaveConfig        `koanf:"save" envPrefix:"SAVE_"`
	Permissions PermissionsConfig `koanf:"permissions" envPrefix:"PERMISSIONS_"`
	Log         LogConfig         `koanf:"log" envPrefix:"LOG_"`
	Metrics     MetricsConfig     `koanf:"metrics" envPrefix:"METRICS_"`
	Control     ControlConfig     `koanf:"control" envPrefix:"CONTROL_"`
}

type ServerConfig struct {
	Address        string        `koanf:"address" env:"ADDRESS"`
	Port           uint16        `koanf:"port" env:"PORT"`
	MaxPeers       int           `koanf:"max_peers" env:"MAX_PEERS"`
	ServiceTimeout time.Duration `koanf:"service_timeout" env:"SERVICE_TIMEOUT"`
	RateLimit      float64       `koanf:"rate_limit" env:"RATE_LIMIT"`
	RateBurst      int           `koanf:"rate_burst" env:"RATE_BURST"`
	WelcomeMessage string        `koanf:"welcome_message" env:"WELCOME_MESSAGE"`
}

type SaveConfig struct {
	LevelName               string        `koanf:"level_name" env:"LEVEL_NAME"`
	BasePath                string        `koanf:"base_path" env:"BASE_PATH"`
	AutoSaveInterval        time.Duration `koanf:"auto_save_interval" env:"AUTO_SAVE_INTERVAL"`
	BackupCount             int           `koanf:"backup_count" env:"BACKUP_COUNT"`
	LoadBackupOnStart       bool          `koanf:"load_backup_on_start" env:"LOAD_BACKUP_ON_START"`
	KeepBackupWithNoEditors bool          `koanf:"keep_backup_with_no_editors" env:"KEEP_BACKUP_WITH_NO_EDITORS"`
}

type PermissionsConfig struct {
	// Path of the bolt database. Empty keeps permissions in memory only.
	Path string `koanf:"path" env:"PATH"`
}

type LogConfig struct {
	Format string `koanf:"format" env:"FORMAT"`
	Level  string `koanf:"level" env:"LEVEL"`
}

type MetricsConfig struct {
	Address string `koanf:"address" env:"ADDRESS"`
}

type ControlConfig struct {
	Address string `koanf:"address" env:"ADDRESS"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			MaxPeers:       64,
			ServiceTimeout: 10 * time.Millisecond,
			RateLimit:      120,
			RateBurst:      240,
			WelcomeMessage: "Welcome to the TeamX server!",
		},
		Save: SaveConfig{
			LevelName:               "TeamXServer",
			BasePath:                ".",
			AutoSaveInterval:        60 * time.Second,
			BackupCount:             5,
			LoadBackupOnStart:       true,
			KeepBackupWithNoEditors: true,
		},
		Permissions: PermissionsConfig{Path: "permissions.db"},
		Log:         LogConfig{Format: "text", Level: "info"},
		Metrics:     MetricsConfig{Address: "127.0.0.1:9100"},
		Control:     ControlConfig{Address: "127.0.0.1:8421"},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"address":        "server.address",
	"port":           "server.port",
	"max-peers":      "server.max_peers",
	"rate-limit":     "server.rate_limit",
	"level-name":     "save.level_name",
	"save-dir":       "save.base_path",
	"autosave":       "save.auto_save_interval",
	"backups":        "save.backup_count",
	"permissions-db": "permissions.path",
	"log-format":     "log.format",
	"log-level":      "log.level",
	"metrics-addr":   "metrics.address",
	"control-addr":   "control.address",
}

// RegisterFlags adds the serve flags to fs, with defaults shown from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("address", d.Server.Address, "UDP listen address (empty = all interfaces)")
	fs.Uint16("port", d.Server.Port, "UDP listen port")
	fs.Int("max-peers", d.Server.MaxPeers, "maximum simultaneous connections")
	fs.Float64("rate-limit", d.Server.RateLimit, "packets per second per connection (0 = unlimited)")
	fs.String("level-name", d.Save.LevelName, "level name used for save directories")
	fs.String("save-dir", d.Save.BasePath, "base directory for saves")
	fs.Duration("autosave", d.Save.AutoSaveInterval, "autosave interval (0 = disabled)")
	fs.Int("backups", d.Save.BackupCount, "backups to keep per save kind")
	fs.String("permissions-db", d.Permissions.Path, "permission database path (empty = in memory)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", d.Metrics.Address, "metrics/health HTTP address (empty = disabled)")
	fs.String("control-addr", d.Control.Address, "admin control address (empty = disabled)")
}

type Options struct {
	// Path of the YAML file. Empty skips the file; a missing file is an error.
	Path string
	// Flags set by the user. May be nil.
	Flags *pflag.FlagSet
	// Environment overrides os.Environ, for tests.
	Environment map[string]string
}

func Load(opts Options) (Config, error) {
	cfg := Default()

	if opts.Path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			return cfg, oops.In("config").Code(CodeInvalid).With("path", opts.Path).Wrapf(err, "read config file")
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return cfg, oops.In("config").Code(CodeInvalid).With("path", opts.Path).Wrapf(err, "decode config file")
		}
	}

	environ := opts.Environment
	if environ == nil {
		environ = environMap()
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return cfg, oops.In("config").Code(CodeInvalid).Wrapf(err, "read environment")
	}

	if opts.Flags != nil {
		k := koanf.New(".")
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return cfg, oops.In("config").Code(CodeInvalid).Wrapf(err, "read flags")
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return cfg, oops.In("config").Code(CodeInvalid).Wrapf(err, "decode flags")
		}
	}

	return cfg, cfg.Validate()
}

func environMap() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			m[k] = v
		}
	}
	return m
}

func (c Config) Validate() error {
	invalid := func(key string, value any, msg string) error {
		return oops.In("config").Code(CodeInvalid).With("key", key).With("value", value).Errorf("%s: %s", key, msg)
	}
	switch {
	case c.Server.Port == 0:
		return invalid("server.port", c.Server.Port, "must be set")
	case c.Server.MaxPeers < 1 || c.Server.MaxPeers > 4095:
		return invalid("server.max_peers", c.Server.MaxPeers, "must be between 1 and 4095")
	case c.Server.ServiceTimeout < 0:
		return invalid("server.service_timeout", c.Server.ServiceTimeout, "must not be negative")
	case c.Server.RateLimit < 0:
		return invalid("server.rate_limit", c.Server.RateLimit, "must not be negative")
	case c.Server.RateLimit > 0 && c.Server.RateBurst < 1:
		return invalid("server.rate_burst", c.Server.RateBurst, "must be at least 1 when rate limiting")
	case strings.TrimSpace(c.Save.LevelName) == "":
		return invalid("save.level_name", c.Save.LevelName, "must be set")
	case c.Save.AutoSaveInterval < 0:
		return invalid("save.auto_save_interval", c.Save.AutoSaveInterval, "must not be negative")
	case c.Save.BackupCount < 0:
		return invalid("save.backup_count", c.Save.BackupCount, "must not be negative")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", c.Log.Format, "must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	return nil
}
