// Package config loads and validates the master server's runtime
// configuration: listen address, the reaper's retention windows, the
// master-server identity stamped on server-originated envelopes, result
// caps, and log level.
//
// Grounded on the teacher's internal/config.Config: the same
// Default/Validate/Load shape, adapted from a flat JSON file read
// with encoding/json to viper, so the process can read from a config file,
// environment variables (GMS_ prefixed), or CLI flags with one precedence
// order, and can live-reload the handful of knobs that are safe to change
// without a restart.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of tunables spec.md §6 names.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	PeerTimeout      time.Duration `mapstructure:"peer_timeout"`
	PeerReapInterval time.Duration `mapstructure:"peer_reap_interval"`
	LobbyRetention   time.Duration `mapstructure:"lobby_retention"`
	GameserverTTL    time.Duration `mapstructure:"gameserver_ttl"`
	RelayConnTimeout time.Duration `mapstructure:"relay_conn_timeout"`

	MasterServerID uint64 `mapstructure:"master_server_id"`

	LobbyQueryLimit      int `mapstructure:"lobby_query_limit"`
	GameserverQueryLimit int `mapstructure:"gameserver_query_limit"`

	LogLevel string `mapstructure:"log_level"`

	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr"`

	AdminFeedEnabled bool   `mapstructure:"admin_feed_enabled"`
	AdminFeedAddr    string `mapstructure:"admin_feed_addr"`
}

// Default returns spec.md §6's literal defaults.
func Default() Config {
	return Config{
		ListenAddr: fmt.Sprintf(":%d", 47584),

		PeerTimeout:      30 * time.Second,
		PeerReapInterval: 10 * time.Second,
		LobbyRetention:   5 * time.Minute,
		GameserverTTL:    5 * time.Minute,
		RelayConnTimeout: 5 * time.Minute,

		MasterServerID: 0x100001DEADBEEF,

		LobbyQueryLimit:      50,
		GameserverQueryLimit: 100,

		LogLevel: "info",

		MetricsEnabled: false,
		MetricsAddr:    "127.0.0.1:9090",

		AdminFeedEnabled: false,
		AdminFeedAddr:    "127.0.0.1:9091",
	}
}

// Validate rejects configurations that would put a subsystem in an
// impossible state (zero timeouts, an unparsable log level, a listen
// address with no port).
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen_addr is required")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr: %w", err)
	}
	if c.PeerTimeout <= 0 {
		return errors.New("peer_timeout must be > 0")
	}
	if c.PeerReapInterval <= 0 {
		return errors.New("peer_reap_interval must be > 0")
	}
	if c.LobbyRetention <= 0 {
		return errors.New("lobby_retention must be > 0")
	}
	if c.RelayConnTimeout <= 0 {
		return errors.New("relay_conn_timeout must be > 0")
	}
	if c.MasterServerID == 0 {
		return errors.New("master_server_id must be non-zero")
	}
	if c.LobbyQueryLimit <= 0 {
		return errors.New("lobby_query_limit must be > 0")
	}
	if c.GameserverQueryLimit <= 0 {
		return errors.New("gameserver_query_limit must be > 0")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// parseLevel is isolated so config doesn't need to import logrus just to
// validate a string; internal/logging owns the actual logrus.ParseLevel call.
func parseLevel(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug", "info", "information", "warn", "warning", "error", "fatal", "panic":
		return s, nil
	default:
		return "", fmt.Errorf("unrecognized level %q", s)
	}
}

// Loader owns the viper instance backing a Config: one file, the GMS_
// environment prefix, and (optionally) CLI flags bound on top.
type Loader struct {
	v *viper.Viper
}

// NewLoader builds a Loader seeded with Default()'s values, readable from
// cfgPath if non-empty, from GMS_-prefixed environment variables, and from
// flags bound via BindFlags.
func NewLoader(cfgPath string) (*Loader, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("peer_timeout", def.PeerTimeout)
	v.SetDefault("peer_reap_interval", def.PeerReapInterval)
	v.SetDefault("lobby_retention", def.LobbyRetention)
	v.SetDefault("gameserver_ttl", def.GameserverTTL)
	v.SetDefault("relay_conn_timeout", def.RelayConnTimeout)
	v.SetDefault("master_server_id", def.MasterServerID)
	v.SetDefault("lobby_query_limit", def.LobbyQueryLimit)
	v.SetDefault("gameserver_query_limit", def.GameserverQueryLimit)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("metrics_enabled", def.MetricsEnabled)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("admin_feed_enabled", def.AdminFeedEnabled)
	v.SetDefault("admin_feed_addr", def.AdminFeedAddr)

	v.SetEnvPrefix("GMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	return &Loader{v: v}, nil
}

// BindFlags binds a subset of flags (the ones safe to override per-process)
// onto the loader's viper instance, so CLI flags take precedence over file
// and environment values.
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	for _, name := range []string{"listen-addr", "log-level", "metrics-enabled", "metrics-addr"} {
		if f := flags.Lookup(name); f != nil {
			if err := l.v.BindPFlag(strings.ReplaceAll(name, "-", "_"), f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load unmarshals the current viper state into a validated Config.
func (l *Loader) Load() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WatchReload invokes onChange with the freshly reloaded Config whenever the
// backing file changes. Only safe to call when Loader was constructed with a
// non-empty cfgPath. Reload failures are reported to onChange as an error
// rather than applied, so a bad edit never replaces a good running config.
func (l *Loader) WatchReload(onChange func(Config, error)) {
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		onChange(l.Load())
	})
	l.v.WatchConfig()
}
