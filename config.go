package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Built-in session defaults.
const (
	DefaultAppName                 = "notify"
	DefaultAntiLeakTimeout         = 30 * time.Second
	DefaultCriticalAntiLeakTimeout = 10 * time.Minute
	DefaultConnectTimeout          = 10 * time.Second
)

// Config holds the session defaults that can be set from a file.
//
//	app_name = "mail-watcher"
//	unflood = "300ms"          # negative disables flood control
//	connect_timeout = "5s"
//
//	[anti_leak]
//	timeout = "30s"
//	critical_timeout = "10m"
//
//	[hints]
//	category = "email.arrived"
//	desktop-entry = "mail-watcher"
type Config struct {
	AppName        string                 `koanf:"app_name"`
	Unflood        time.Duration          `koanf:"unflood"`
	ConnectTimeout time.Duration          `koanf:"connect_timeout"`
	AntiLeak       AntiLeakConfig         `koanf:"anti_leak"`
	Hints          map[string]interface{} `koanf:"hints"` // applied to every new notification
}

// AntiLeakConfig sets the watchdog timeouts for pushed notifications.
type AntiLeakConfig struct {
	Timeout         time.Duration `koanf:"timeout"`
	CriticalTimeout time.Duration `koanf:"critical_timeout"`
}

// DefaultConfig returns the built-in defaults: flood control off and the default timeouts.
func DefaultConfig() Config {
	return Config{
		AppName:        DefaultAppName,
		Unflood:        UnfloodDisabled,
		ConnectTimeout: DefaultConnectTimeout,
		AntiLeak: AntiLeakConfig{
			Timeout:         DefaultAntiLeakTimeout,
			CriticalTimeout: DefaultCriticalAntiLeakTimeout,
		},
	}
}

// LoadConfig reads the given TOML files in order, later files overriding
// earlier ones. Missing files are skipped. Without paths it looks at
// DefaultConfigPaths.
func LoadConfig(paths ...string) (Config, error) {
	if len(paths) == 0 {
		paths = DefaultConfigPaths()
	}

	k := koanf.New(".")
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("notify: load config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("notify: decode config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// DefaultConfigPaths returns $XDG_CONFIG_HOME/desknotify/config.toml and ./desknotify.toml.
func DefaultConfigPaths() []string {
	return []string{
		filepath.Join(xdg.ConfigHome, "desknotify", "config.toml"),
		"desknotify.toml",
	}
}

func (c *Config) normalize() {
	if c.AppName == "" {
		c.AppName = DefaultAppName
	}
	if c.Unflood < 0 {
		c.Unflood = UnfloodDisabled
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.AntiLeak.Timeout <= 0 {
		c.AntiLeak.Timeout = DefaultAntiLeakTimeout
	}
	if c.AntiLeak.CriticalTimeout <= 0 {
		c.AntiLeak.CriticalTimeout = DefaultCriticalAntiLeakTimeout
	}
}
