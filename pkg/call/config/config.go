// Package config loads call client settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every variable name.
const Prefix = "VAI_CALL_"

type Config struct {
	APIURL    string `env:"API_URL" envDefault:"http://localhost:5001"`
	SocketURL string `env:"SOCKET_URL"`
	APIToken  string `env:"API_TOKEN"`

	UserID   string `env:"USER_ID"`
	UserName string `env:"USER_NAME" envDefault:"Caller"`

	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	MicSampleRate      int `env:"MIC_SAMPLE_RATE_HZ" envDefault:"16000"`
	MicChannels        int `env:"MIC_CHANNELS" envDefault:"1"`
	PlaybackSampleRate int `env:"PLAYBACK_SAMPLE_RATE_HZ" envDefault:"24000"`

	// Empty disables the metrics endpoint.
	MetricsAddr  string `env:"METRICS_ADDR"`
	BrandingFile string `env:"BRANDING_FILE"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads dotenvPath (if it exists) into the process environment without
// overriding variables that are already set, then parses and validates the
// configuration. An empty dotenvPath skips the file.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}
	return parse(env.Options{Prefix: Prefix})
}

// FromMap parses the configuration from vars instead of the process
// environment. Keys carry the VAI_CALL_ prefix.
func FromMap(vars map[string]string) (Config, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	cfg.SocketURL = strings.TrimSpace(cfg.SocketURL)
	if cfg.SocketURL == "" && cfg.APIURL != "" {
		derived, err := SocketURLFor(cfg.APIURL)
		if err != nil {
			return Config{}, fmt.Errorf("%sAPI_URL: %w", Prefix, err)
		}
		cfg.SocketURL = derived
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if err := checkURL(cfg.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("%sAPI_URL %w", Prefix, err)
	}
	if err := checkURL(cfg.SocketURL, "ws", "wss"); err != nil {
		return fmt.Errorf("%sSOCKET_URL %w", Prefix, err)
	}
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("%sCONNECT_TIMEOUT must be > 0", Prefix)
	}
	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("%sWRITE_TIMEOUT must be > 0", Prefix)
	}
	if cfg.HTTPTimeout <= 0 {
		return fmt.Errorf("%sHTTP_TIMEOUT must be > 0", Prefix)
	}
	if cfg.MicSampleRate < 8000 || cfg.MicSampleRate > 48000 {
		return fmt.Errorf("%sMIC_SAMPLE_RATE_HZ must be between 8000 and 48000", Prefix)
	}
	if cfg.MicChannels != 1 && cfg.MicChannels != 2 {
		return fmt.Errorf("%sMIC_CHANNELS must be 1 or 2", Prefix)
	}
	if cfg.PlaybackSampleRate < 8000 || cfg.PlaybackSampleRate > 48000 {
		return fmt.Errorf("%sPLAYBACK_SAMPLE_RATE_HZ must be between 8000 and 48000", Prefix)
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%sLOG_LEVEL %w", Prefix, err)
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("is not a valid URL: %q", raw)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("must use one of %v, got %q", schemes, u.Scheme)
}

// SocketURLFor derives the message channel endpoint from the REST base URL:
// http becomes ws, https becomes wss, and /ws is appended to the path.
func SocketURLFor(apiURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiURL))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("is not a valid URL: %q", apiURL)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("must use http or https, got %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("must be one of debug, info, warn, error; got %q", s)
	}
}
