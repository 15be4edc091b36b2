// Package config loads the redirect server's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultPath is the file name looked up in the working directory.
const DefaultPath = "kfuz2_server.toml"

// Config is the top-level server configuration.
type Config struct {
	IP4              string                 `toml:"ip4"`
	Port             int                    `toml:"port"`
	DefaultAlias     string                 `toml:"default_alias"`
	CompressOnDemand bool                   `toml:"compress_on_demand"`
	LogDir           string                 `toml:"log_dir"`
	LogLevel         string                 `toml:"log_level"`
	Server           map[string]ServerEntry `toml:"server"`
}

// ServerEntry maps a URL alias to a game server's directories.
type ServerEntry struct {
	URLAlias          string `toml:"url_alias"`
	BaseDirectory     string `toml:"base_directory"`
	RedirectDirectory string `toml:"redirect_directory"`
}

// Defaults returns the configuration written when no file exists.
func Defaults() Config {
	base := "KF Dedicated Server"
	return Config{
		IP4:              "127.0.0.1",
		Port:             8080,
		DefaultAlias:     "test_server",
		CompressOnDemand: true,
		LogDir:           "logs",
		LogLevel:         "info",
		Server: map[string]ServerEntry{
			"test_server": {
				URLAlias:          "test_server",
				BaseDirectory:     base,
				RedirectDirectory: filepath.Join(base, "Redirect"),
			},
		},
	}
}

// Load reads path. A missing file is created with Defaults() and the
// defaults are returned with created set. Unknown keys are an error.
func Load(path string) (cfg Config, created bool, err error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg = Defaults()
		if err := Write(path, cfg); err != nil {
			return Config{}, false, err
		}
		return cfg, true, nil
	}

	cfg = Defaults()
	cfg.Server = nil
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, false, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if und := md.Undecoded(); len(und) > 0 {
		keys := make([]string, len(und))
		for i, k := range und {
			keys[i] = k.String()
		}
		return Config{}, false, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if cfg.Server == nil {
		cfg.Server = Defaults().Server
	}
	cfg.normalize()
	return cfg, false, nil
}

// Write encodes cfg to path.
func Write(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return f.Close()
}

// normalize fills empty url_alias fields from their table keys.
func (c *Config) normalize() {
	for key, e := range c.Server {
		if e.URLAlias == "" {
			e.URLAlias = key
			c.Server[key] = e
		}
	}
}

// Entry returns the server entry whose url_alias (or table key) is alias.
func (c Config) Entry(alias string) (ServerEntry, bool) {
	if e, ok := c.Server[alias]; ok {
		return e, true
	}
	for _, e := range c.Server {
		if e.URLAlias == alias {
			return e, true
		}
	}
	return ServerEntry{}, false
}

// Aliases returns every configured alias, sorted.
func (c Config) Aliases() []string {
	out := make([]string, 0, len(c.Server))
	for _, e := range c.Server {
		out = append(out, e.URLAlias)
	}
	sort.Strings(out)
	return out
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.IP4, fmt.Sprint(c.Port))
}

// Validate checks the minimal invariants needed to start serving.
func Validate(cfg Config) error {
	if ip := net.ParseIP(cfg.IP4); ip == nil || ip.To4() == nil {
		return fmt.Errorf("config: ip4 %q is not an IPv4 address", cfg.IP4)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", cfg.Port)
	}
	if len(cfg.Server) == 0 {
		return errors.New("config: no server entries")
	}
	seen := make(map[string]string, len(cfg.Server))
	for key, e := range cfg.Server {
		if strings.TrimSpace(e.RedirectDirectory) == "" {
			return fmt.Errorf("config: server %q missing redirect_directory", key)
		}
		if strings.ContainsAny(e.URLAlias, "/\\") {
			return fmt.Errorf("config: server %q url_alias %q must not contain slashes", key, e.URLAlias)
		}
		if other, dup := seen[e.URLAlias]; dup {
			return fmt.Errorf("config: servers %q and %q share url_alias %q", other, key, e.URLAlias)
		}
		seen[e.URLAlias] = key
	}
	if _, ok := cfg.Entry(cfg.DefaultAlias); !ok {
		return fmt.Errorf("config: default_alias %q not found", cfg.DefaultAlias)
	}
	return nil
}
