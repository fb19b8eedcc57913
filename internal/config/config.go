// Package config loads settings from defaults, an optional TOML file, the environment (including
// a .env file) and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	ModeServer      = "server"
	ModeInteractive = "interactive"
	ModeHeadless    = "headless"
)

type Config struct {
	Mode           string
	ConfigPath     string
	BackendURL     string
	WebSocketURL   string
	WebURL         string
	Token          string
	TokenFile      string
	DatabasePath   string
	MediaPath      string
	GRPCAddress    string
	MCPAddress     string
	LogLevel       string
	ReconnectDelay time.Duration
	RequestTimeout time.Duration
	MaxUploadSize  int64
	MediaCacheSize int
}

// fileConfig mirrors Config in the TOML file. Durations are strings ("1500ms").
type fileConfig struct {
	Mode           string `toml:"mode"`
	BackendURL     string `toml:"backend_url"`
	WebSocketURL   string `toml:"websocket_url"`
	WebURL         string `toml:"web_url"`
	Token          string `toml:"token"`
	TokenFile      string `toml:"token_file"`
	DatabasePath   string `toml:"database_path"`
	MediaPath      string `toml:"media_path"`
	GRPCAddress    string `toml:"grpc_address"`
	MCPAddress     string `toml:"mcp_address"`
	LogLevel       string `toml:"log_level"`
	ReconnectDelay string `toml:"reconnect_delay"`
	RequestTimeout string `toml:"request_timeout"`
	MaxUploadSize  int64  `toml:"max_upload_size"`
	MediaCacheSize int    `toml:"media_cache_size"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".marketplace-chat")

	return &Config{
		Mode:           ModeServer,
		BackendURL:     "http://localhost:8080",
		WebURL:         "http://localhost:4200",
		DatabasePath:   filepath.Join(dataDir, "chat.db"),
		MediaPath:      filepath.Join(dataDir, "media"),
		GRPCAddress:    "127.0.0.1:50052",
		MCPAddress:     "127.0.0.1:8090",
		LogLevel:       "info",
		ReconnectDelay: 1500 * time.Millisecond,
		RequestTimeout: 15 * time.Second,
		MaxUploadSize:  5 << 20,
		MediaCacheSize: 64,
	}
}

// Load builds the configuration for the given command-line arguments (without the program
// name).
func Load(args []string) (*Config, error) {
	// .env never overrides variables that are already set
	_ = godotenv.Load()

	cfg := Default()

	cfg.ConfigPath = getEnv("MC_CONFIG", "")
	if p := findFlagValue(args, "config"); p != "" {
		cfg.ConfigPath = p
	}
	if cfg.ConfigPath != "" {
		if err := cfg.loadFile(cfg.ConfigPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("marketplace-chat", flag.ContinueOnError)
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "TOML configuration file")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "Run mode: server, interactive, or headless")
	fs.StringVar(&cfg.BackendURL, "backend", cfg.BackendURL, "Backend base URL")
	fs.StringVar(&cfg.WebSocketURL, "ws", cfg.WebSocketURL, "STOMP websocket URL (default derived from -backend)")
	fs.StringVar(&cfg.WebURL, "web", cfg.WebURL, "Web client base URL used for chat links")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "Bearer token")
	fs.StringVar(&cfg.TokenFile, "token-file", cfg.TokenFile, "File holding the bearer token, reloaded on change")
	fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "Local cache database path")
	fs.StringVar(&cfg.MediaPath, "media", cfg.MediaPath, "Media download path")
	fs.StringVar(&cfg.GRPCAddress, "grpc-port", cfg.GRPCAddress, "gRPC health server address")
	fs.StringVar(&cfg.MCPAddress, "mcp-port", cfg.MCPAddress, "MCP SSE server address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "Delay between reconnect attempts")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "REST request timeout")
	fs.Int64Var(&cfg.MaxUploadSize, "max-upload", cfg.MaxUploadSize, "Maximum attachment size in bytes")
	fs.IntVar(&cfg.MediaCacheSize, "media-cache", cfg.MediaCacheSize, "Media files kept per open chat")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.WebSocketURL == "" {
		ws, err := DeriveWebSocketURL(cfg.BackendURL)
		if err != nil {
			return nil, err
		}
		cfg.WebSocketURL = ws
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	setString(&c.Mode, fc.Mode)
	setString(&c.BackendURL, fc.BackendURL)
	setString(&c.WebSocketURL, fc.WebSocketURL)
	setString(&c.WebURL, fc.WebURL)
	setString(&c.Token, fc.Token)
	setString(&c.TokenFile, fc.TokenFile)
	setString(&c.DatabasePath, fc.DatabasePath)
	setString(&c.MediaPath, fc.MediaPath)
	setString(&c.GRPCAddress, fc.GRPCAddress)
	setString(&c.MCPAddress, fc.MCPAddress)
	setString(&c.LogLevel, fc.LogLevel)

	if err := setDuration(&c.ReconnectDelay, fc.ReconnectDelay); err != nil {
		return fmt.Errorf("invalid reconnect_delay: %w", err)
	}
	if err := setDuration(&c.RequestTimeout, fc.RequestTimeout); err != nil {
		return fmt.Errorf("invalid request_timeout: %w", err)
	}
	if fc.MaxUploadSize > 0 {
		c.MaxUploadSize = fc.MaxUploadSize
	}
	if fc.MediaCacheSize > 0 {
		c.MediaCacheSize = fc.MediaCacheSize
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Mode = getEnv("MC_MODE", c.Mode)
	c.BackendURL = getEnv("MC_BACKEND_URL", c.BackendURL)
	c.WebSocketURL = getEnv("MC_WEBSOCKET_URL", c.WebSocketURL)
	c.WebURL = getEnv("MC_WEB_URL", c.WebURL)
	c.Token = getEnv("MC_TOKEN", c.Token)
	c.TokenFile = getEnv("MC_TOKEN_FILE", c.TokenFile)
	c.DatabasePath = getEnv("MC_DATABASE_PATH", c.DatabasePath)
	c.MediaPath = getEnv("MC_MEDIA_PATH", c.MediaPath)
	c.GRPCAddress = getEnv("MC_GRPC_ADDRESS", c.GRPCAddress)
	c.MCPAddress = getEnv("MC_MCP_ADDRESS", c.MCPAddress)
	c.LogLevel = getEnv("MC_LOG_LEVEL", c.LogLevel)

	if err := setDuration(&c.ReconnectDelay, os.Getenv("MC_RECONNECT_DELAY")); err != nil {
		return fmt.Errorf("invalid MC_RECONNECT_DELAY: %w", err)
	}
	if err := setDuration(&c.RequestTimeout, os.Getenv("MC_REQUEST_TIMEOUT")); err != nil {
		return fmt.Errorf("invalid MC_REQUEST_TIMEOUT: %w", err)
	}
	if v := os.Getenv("MC_MAX_UPLOAD_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MC_MAX_UPLOAD_SIZE: %w", err)
		}
		c.MaxUploadSize = n
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeServer, ModeInteractive, ModeHeadless:
	default:
		return fmt.Errorf("unknown mode: %s", c.Mode)
	}
	if _, err := url.ParseRequestURI(c.BackendURL); err != nil {
		return fmt.Errorf("invalid backend URL: %w", err)
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("reconnect delay must be positive")
	}
	if c.MaxUploadSize <= 0 {
		return errors.New("max upload size must be positive")
	}
	if c.MediaCacheSize <= 0 {
		return errors.New("media cache size must be positive")
	}
	return nil
}

// EnsureDirs creates the directories for the cache database and media files.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(filepath.Dir(c.DatabasePath), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(c.MediaPath, 0o755)
}

// DeriveWebSocketURL maps http(s)://host to ws(s)://host/ws-chat/websocket, the raw
// websocket transport of the backend's SockJS endpoint.
func DeriveWebSocketURL(backend string) (string, error) {
	u, err := url.Parse(backend)
	if err != nil {
		return "", fmt.Errorf("invalid backend URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws-chat/websocket"
	return u.String(), nil
}

func findFlagValue(args []string, name string) string {
	for i, arg := range args {
		trimmed := strings.TrimLeft(arg, "-")
		if trimmed == arg {
			continue
		}
		if trimmed == name && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(trimmed, name+"=") {
			return strings.TrimPrefix(trimmed, name+"=")
		}
	}
	return ""
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
