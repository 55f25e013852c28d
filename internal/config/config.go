// Package config holds the CLI configuration and its loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/1ureka/rtcsig/internal/connector"
	"github.com/1ureka/rtcsig/internal/sdputil"
	"github.com/1ureka/rtcsig/internal/util"
)

// Default configuration values.
const (
	DefaultConfigDir     = "."
	DefaultConfigName    = "rtcsig"
	DefaultEnvPrefix     = "RTCSIG"
	DefaultAutoReconnect = true
	DefaultKeepAlive     = 30 * time.Second
	DefaultStatsInterval = 10 * time.Second
	DefaultMetricsAddr   = ""
	DefaultVersion       = "1.0"
)

// Config stores every setting of the rtcsig CLI.
type Config struct {
	// ConfigDir is searched for rtcsig.yaml (.json and .toml also work).
	ConfigDir string `mapstructure:"config-dir"`
	Debug     bool   `mapstructure:"debug"`

	// URL of the channelling server, ws:// or wss://.
	URL   string `mapstructure:"url"`
	Room  string `mapstructure:"room"`
	Token string `mapstructure:"token"` // initial resume token

	ConnectTimeout    time.Duration `mapstructure:"connect-timeout"`
	ConnectTimeoutMax time.Duration `mapstructure:"connect-timeout-max"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect-delay"`
	AutoReconnect     bool          `mapstructure:"auto-reconnect"`
	KeepAlive         time.Duration `mapstructure:"keepalive"`

	StatsInterval time.Duration `mapstructure:"stats-interval"`
	// MetricsAddr serves prometheus metrics on /metrics when non-empty.
	MetricsAddr string `mapstructure:"metrics-listen"`

	Media sdputil.MediaPolicy `mapstructure:"media"`
}

// Default returns a Config filled with default values.
func Default() *Config {
	return &Config{
		ConfigDir:         DefaultConfigDir,
		ConnectTimeout:    connector.DefaultConnectTimeout,
		ConnectTimeoutMax: connector.DefaultConnectTimeoutMax,
		ReconnectDelay:    connector.DefaultReconnectDelay,
		AutoReconnect:     DefaultAutoReconnect,
		KeepAlive:         DefaultKeepAlive,
		StatsInterval:     DefaultStatsInterval,
		MetricsAddr:       DefaultMetricsAddr,
	}
}

// MediaKeys lists the media policy keys, relative to "media.".
var MediaKeys = []string{
	"opus-stereo", "opus-fec", "opus-dtx", "opus-max-playback-rate",
	"audio-send-bitrate", "audio-recv-bitrate",
	"video-send-bitrate", "video-recv-bitrate", "video-send-initial-bitrate",
	"audio-send-codec", "audio-recv-codec", "video-send-codec", "video-recv-codec",
	"strip-rtx", "legacy-profile",
}

// NewViper returns a viper instance that reads RTCSIG_* environment
// variables and knows every configuration key.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("config-dir", d.ConfigDir)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("url", d.URL)
	v.SetDefault("room", d.Room)
	v.SetDefault("token", d.Token)
	v.SetDefault("connect-timeout", d.ConnectTimeout)
	v.SetDefault("connect-timeout-max", d.ConnectTimeoutMax)
	v.SetDefault("reconnect-delay", d.ReconnectDelay)
	v.SetDefault("auto-reconnect", d.AutoReconnect)
	v.SetDefault("keepalive", d.KeepAlive)
	v.SetDefault("stats-interval", d.StatsInterval)
	v.SetDefault("metrics-listen", d.MetricsAddr)
	for _, k := range MediaKeys {
		v.SetDefault("media."+k, nil)
	}
	return v
}

// Load reads the config file from the configured directory, if any, and
// unmarshals everything v knows into a Config. Flags must already be bound.
func Load(v *viper.Viper) (*Config, error) {
	v.SetConfigName(DefaultConfigName)
	v.AddConfigPath(v.GetString("config-dir"))

	if err := v.ReadInConfig(); err == nil {
		util.LogDebug("using config file: %s", v.ConfigFileUsed())
	} else {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		util.LogDebug("no config file found in: %s", v.GetString("config-dir"))
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and normalizes URL.
func (c *Config) Validate() error {
	if c.URL != "" {
		u, err := NormalizeURL(c.URL)
		if err != nil {
			return err
		}
		c.URL = u
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid connect-timeout %s: must be positive", c.ConnectTimeout)
	}
	if c.ConnectTimeoutMax < c.ConnectTimeout {
		return fmt.Errorf("invalid connect-timeout-max %s: below connect-timeout %s", c.ConnectTimeoutMax, c.ConnectTimeout)
	}
	if c.ReconnectDelay < 0 || c.KeepAlive < 0 || c.StatsInterval < 0 {
		return errors.New("durations must not be negative")
	}
	c.Media.OpusStereo = normalizeFlag(c.Media.OpusStereo)
	c.Media.OpusFec = normalizeFlag(c.Media.OpusFec)
	c.Media.OpusDtx = normalizeFlag(c.Media.OpusDtx)
	return nil
}

// normalizeFlag maps boolean spellings such as "1" from weakly typed
// decoding onto the canonical flag values.
func normalizeFlag(f sdputil.Flag) sdputil.Flag {
	b, err := strconv.ParseBool(string(f))
	switch {
	case err != nil:
		return f
	case b:
		return sdputil.FlagTrue
	default:
		return sdputil.FlagFalse
	}
}

// ConnectorOptions maps the link settings onto connector options.
func (c *Config) ConnectorOptions() connector.Options {
	return connector.Options{
		ConnectTimeout:    c.ConnectTimeout,
		ConnectTimeoutMax: c.ConnectTimeoutMax,
		ReconnectDelay:    c.ReconnectDelay,
	}
}

// NormalizeURL accepts ws://, wss://, http:// and https:// URLs (the latter
// two mapped to their WebSocket schemes) and a bare host, which gets wss://.
// Path and query are kept.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid WebSocket URL scheme: %s", u.Scheme)
	}
	return u.String(), nil
}
