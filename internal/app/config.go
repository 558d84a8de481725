package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keys shared by flags, environment variables and config files.
const (
	KeyAddr             = "addr"
	KeyWSPath           = "ws_path"
	KeyDBPath           = "db_path"
	KeyLogLevel         = "log_level"
	KeyLogFormat        = "log_format"
	KeyResolveTimeout   = "resolve_timeout"
	KeyTokenTTL         = "token_ttl"
	KeySessionCacheSize = "session_cache_size"
	KeySessionCacheTTL  = "session_cache_ttl"

	envPrefix = "HUDDLE"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr             string
	WSPath           string
	DBPath           string
	LogLevel         string
	LogFormat        string
	ResolveTimeout   time.Duration
	TokenTTL         time.Duration
	SessionCacheSize int
	SessionCacheTTL  time.Duration
}

// ClientConfig defines the parameters the watch client needs.
type ClientConfig struct {
	ServerURL string
	Username  string
	Groups    []int64
}

// NewViper returns a viper instance with defaults set and HUDDLE_*
// environment variables bound.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyAddr, ":8080")
	v.SetDefault(KeyWSPath, "/ws")
	v.SetDefault(KeyDBPath, DefaultDBPath())
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyResolveTimeout, 5*time.Second)
	v.SetDefault(KeyTokenTTL, 7*24*time.Hour)
	v.SetDefault(KeySessionCacheSize, 4096)
	v.SetDefault(KeySessionCacheTTL, time.Minute)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadServerConfig reads the optional config file and decodes the settings.
func LoadServerConfig(v *viper.Viper, configFile string) (ServerConfig, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return ServerConfig{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	cfg := ServerConfig{
		Addr:             v.GetString(KeyAddr),
		WSPath:           NormalizeWSPath(v.GetString(KeyWSPath)),
		DBPath:           v.GetString(KeyDBPath),
		LogLevel:         v.GetString(KeyLogLevel),
		LogFormat:        v.GetString(KeyLogFormat),
		ResolveTimeout:   v.GetDuration(KeyResolveTimeout),
		TokenTTL:         v.GetDuration(KeyTokenTTL),
		SessionCacheSize: v.GetInt(KeySessionCacheSize),
		SessionCacheTTL:  v.GetDuration(KeySessionCacheTTL),
	}
	if cfg.DBPath == "" {
		return ServerConfig{}, fmt.Errorf("%s must not be empty", KeyDBPath)
	}
	if cfg.ResolveTimeout <= 0 {
		return ServerConfig{}, fmt.Errorf("%s must be positive, got %s", KeyResolveTimeout, cfg.ResolveTimeout)
	}
	return cfg, nil
}

// NewLogger builds the process logger. format is "text" or "json".
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("HUDDLE_DATA_DIR"); env != "" {
		return filepath.Join(env, "huddle.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "huddle", "huddle.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Huddle", "huddle.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Huddle", "huddle.db")
		}
		return filepath.Join(home, ".local", "share", "huddle", "huddle.db")
	}
	return filepath.Join(".", ".huddle", "huddle.db")
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeWSPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
