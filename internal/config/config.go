// Package config loads node configuration from defaults, an optional YAML
// file, environment variables and command-line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Role selects which node the configuration is for.
type Role string

const (
	RoleReceiver Role = "receiver"
	RoleSender   Role = "sender"
)

// Discovery modes.
const (
	DiscoveryStatic    = "static"
	DiscoveryBroadcast = "broadcast"
)

// ErrHelp is returned by Load when --help was requested.
var ErrHelp = pflag.ErrHelp

// Config holds all configuration for a node.
type Config struct {
	Role Role `yaml:"-"`

	HTTPAddr     string `yaml:"http_addr"`
	PeerPath     string `yaml:"peer_path"`
	ObserverPath string `yaml:"observer_path"`

	ServiceName      string        `yaml:"service_name"`
	DiscoveryPort    int           `yaml:"discovery_port"`
	DiscoveryMode    string        `yaml:"discovery_mode"`
	StaticAddr       string        `yaml:"static_addr"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	// AdvertisePort is the peer port announced by the discovery responder.
	// Zero means the port of HTTPAddr.
	AdvertisePort int `yaml:"advertise_port"`

	HistoryCapacity   int           `yaml:"history_capacity"`
	PollCapacity      int           `yaml:"poll_capacity"`
	PollDefaultLimit  int           `yaml:"poll_default_limit"`
	SideEffectTimeout time.Duration `yaml:"side_effect_timeout"`
	ScreenshotDir     string        `yaml:"screenshot_dir"`
	IngressRateLimit  int           `yaml:"ingress_rate_limit"`

	ClipboardReadCmd  string        `yaml:"clipboard_read_cmd"`
	ClipboardWriteCmd string        `yaml:"clipboard_write_cmd"`
	ClipboardPoll     time.Duration `yaml:"clipboard_poll"`
	ClipboardMonitor  bool          `yaml:"clipboard_monitor"`
	// MemoryClipboard keeps the clipboard in-process, for headless nodes.
	MemoryClipboard bool `yaml:"memory_clipboard"`

	RedisURL   string `yaml:"redis_url"`
	IngressURL string `yaml:"ingress_url"`

	ResolveRetry   time.Duration `yaml:"resolve_retry"`
	HandshakeRetry time.Duration `yaml:"handshake_retry"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// Default returns the built-in configuration for role.
func Default(role Role) *Config {
	cfg := &Config{
		Role:              role,
		HTTPAddr:          ":3002",
		PeerPath:          "/peer",
		ObserverPath:      "/ws",
		ServiceName:       "clipboard-share-receiver",
		DiscoveryPort:     3005,
		DiscoveryMode:     DiscoveryBroadcast,
		DiscoveryTimeout:  5 * time.Second,
		HistoryCapacity:   50,
		PollCapacity:      0,
		PollDefaultLimit:  10,
		SideEffectTimeout: 2 * time.Second,
		ScreenshotDir:     "screenshots",
		ClipboardPoll:     time.Second,
		ClipboardMonitor:  true,
		ResolveRetry:      5 * time.Second,
		HandshakeRetry:    5 * time.Second,
		ReconnectDelay:    3 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          "info",
	}
	if role == RoleSender {
		cfg.HTTPAddr = ":3001"
	}
	return cfg
}

// Load builds the configuration for role from args (without the program
// name). The YAML file comes from --config or RELAY_CONFIG.
func Load(role Role, args []string) (*Config, error) {
	cfg := Default(role)

	path := configPath(args)
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	fs := FlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configPath finds --config without failing on the other flags.
func configPath(args []string) string {
	path := getEnv("RELAY_CONFIG", "")

	pre := pflag.NewFlagSet("config", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	pre.StringVar(&path, "config", path, "")
	_ = pre.Parse(args)
	return path
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("RELAY_HTTP_ADDR", c.HTTPAddr)
	c.PeerPath = getEnv("RELAY_PEER_PATH", c.PeerPath)
	c.ObserverPath = getEnv("RELAY_OBSERVER_PATH", c.ObserverPath)
	c.ServiceName = getEnv("RELAY_SERVICE_NAME", c.ServiceName)
	c.DiscoveryPort = getEnvInt("RELAY_DISCOVERY_PORT", c.DiscoveryPort)
	c.DiscoveryMode = getEnv("RELAY_DISCOVERY_MODE", c.DiscoveryMode)
	c.StaticAddr = getEnv("RELAY_STATIC_ADDR", c.StaticAddr)
	c.DiscoveryTimeout = getEnvDuration("RELAY_DISCOVERY_TIMEOUT", c.DiscoveryTimeout)
	c.AdvertisePort = getEnvInt("RELAY_ADVERTISE_PORT", c.AdvertisePort)
	c.HistoryCapacity = getEnvInt("RELAY_HISTORY_CAPACITY", c.HistoryCapacity)
	c.PollCapacity = getEnvInt("RELAY_POLL_CAPACITY", c.PollCapacity)
	c.PollDefaultLimit = getEnvInt("RELAY_POLL_DEFAULT_LIMIT", c.PollDefaultLimit)
	c.SideEffectTimeout = getEnvDuration("RELAY_SIDE_EFFECT_TIMEOUT", c.SideEffectTimeout)
	c.ScreenshotDir = getEnv("RELAY_SCREENSHOT_DIR", c.ScreenshotDir)
	c.IngressRateLimit = getEnvInt("RELAY_INGRESS_RATE_LIMIT", c.IngressRateLimit)
	c.ClipboardReadCmd = getEnv("RELAY_CLIPBOARD_READ_CMD", c.ClipboardReadCmd)
	c.ClipboardWriteCmd = getEnv("RELAY_CLIPBOARD_WRITE_CMD", c.ClipboardWriteCmd)
	c.ClipboardPoll = getEnvDuration("RELAY_CLIPBOARD_POLL", c.ClipboardPoll)
	c.ClipboardMonitor = getEnvBool("RELAY_CLIPBOARD_MONITOR", c.ClipboardMonitor)
	c.MemoryClipboard = getEnvBool("RELAY_MEMORY_CLIPBOARD", c.MemoryClipboard)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.IngressURL = getEnv("RELAY_INGRESS_URL", c.IngressURL)
	c.ResolveRetry = getEnvDuration("RELAY_RESOLVE_RETRY", c.ResolveRetry)
	c.HandshakeRetry = getEnvDuration("RELAY_HANDSHAKE_RETRY", c.HandshakeRetry)
	c.ReconnectDelay = getEnvDuration("RELAY_RECONNECT_DELAY", c.ReconnectDelay)
	c.ShutdownTimeout = getEnvDuration("RELAY_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// FlagSet binds command-line flags to c, using c's current values as the
// defaults. Only flags relevant to c.Role are registered.
func FlagSet(c *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet(string(c.Role), pflag.ContinueOnError)
	fs.SortFlags = false

	var ignored string
	fs.StringVar(&ignored, "config", getEnv("RELAY_CONFIG", ""), "YAML configuration file")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.PeerPath, "peer-path", c.PeerPath, "websocket path of the receiver's peer endpoint")
	fs.StringVar(&c.ServiceName, "service-name", c.ServiceName, "discovery service name")
	fs.IntVar(&c.DiscoveryPort, "discovery-port", c.DiscoveryPort, "UDP discovery port")
	fs.StringVar(&c.DiscoveryMode, "discovery", c.DiscoveryMode, "static or broadcast (static disables the receiver's responder)")
	fs.StringVar(&c.ClipboardReadCmd, "clipboard-read-cmd", c.ClipboardReadCmd, "command printing the clipboard")
	fs.StringVar(&c.ClipboardWriteCmd, "clipboard-write-cmd", c.ClipboardWriteCmd, "command reading new clipboard content on stdin")
	fs.BoolVar(&c.MemoryClipboard, "memory-clipboard", c.MemoryClipboard, "keep the clipboard in memory instead of the system clipboard")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "graceful shutdown budget")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")

	switch c.Role {
	case RoleReceiver:
		fs.StringVar(&c.ObserverPath, "observer-path", c.ObserverPath, "websocket path for observers")
		fs.IntVar(&c.AdvertisePort, "advertise-port", c.AdvertisePort, "peer port announced to discovery requests (default: HTTP port)")
		fs.IntVar(&c.HistoryCapacity, "history-capacity", c.HistoryCapacity, "events kept for joining observers")
		fs.IntVar(&c.PollCapacity, "poll-capacity", c.PollCapacity, "events kept for polling (0 = unbounded)")
		fs.IntVar(&c.PollDefaultLimit, "poll-limit", c.PollDefaultLimit, "default poll page size")
		fs.DurationVar(&c.SideEffectTimeout, "side-effect-timeout", c.SideEffectTimeout, "bound on clipboard and screenshot writes")
		fs.StringVar(&c.ScreenshotDir, "screenshot-dir", c.ScreenshotDir, "directory screenshots are saved to")
		fs.IntVar(&c.IngressRateLimit, "ingress-rate-limit", c.IngressRateLimit, "POST /events per second per client (0 = unlimited)")
		fs.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis URL for the shared poll log")
	case RoleSender:
		fs.StringVar(&c.StaticAddr, "receiver", c.StaticAddr, "receiver host:port for static discovery")
		fs.DurationVar(&c.DiscoveryTimeout, "discovery-timeout", c.DiscoveryTimeout, "broadcast discovery timeout")
		fs.DurationVar(&c.ClipboardPoll, "clipboard-poll", c.ClipboardPoll, "clipboard polling interval")
		fs.BoolVar(&c.ClipboardMonitor, "clipboard-monitor", c.ClipboardMonitor, "relay local clipboard changes")
		fs.StringVar(&c.IngressURL, "ingress-url", c.IngressURL, "relay ingress API to forward events to")
		fs.DurationVar(&c.ResolveRetry, "resolve-retry", c.ResolveRetry, "delay after a failed discovery")
		fs.DurationVar(&c.HandshakeRetry, "handshake-retry", c.HandshakeRetry, "delay after a failed handshake")
		fs.DurationVar(&c.ReconnectDelay, "reconnect-delay", c.ReconnectDelay, "delay after a lost connection")
	}
	return fs
}

// Validate rejects configurations the nodes cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	} else if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
		errs = append(errs, fmt.Errorf("http_addr: %w", err))
	}
	for name, p := range map[string]string{"peer_path": c.PeerPath, "observer_path": c.ObserverPath} {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("%s must start with /", name))
		}
	}
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required"))
	}
	if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
		errs = append(errs, fmt.Errorf("discovery_port %d out of range", c.DiscoveryPort))
	}
	if c.AdvertisePort < 0 || c.AdvertisePort > 65535 {
		errs = append(errs, fmt.Errorf("advertise_port %d out of range", c.AdvertisePort))
	}

	switch c.DiscoveryMode {
	case DiscoveryBroadcast:
	case DiscoveryStatic:
		if c.Role == RoleSender && c.StaticAddr == "" {
			errs = append(errs, errors.New("static discovery requires static_addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown discovery_mode %q", c.DiscoveryMode))
	}

	if c.HistoryCapacity <= 0 {
		errs = append(errs, errors.New("history_capacity must be positive"))
	}
	if c.PollCapacity < 0 {
		errs = append(errs, errors.New("poll_capacity must not be negative"))
	}
	if c.PollDefaultLimit <= 0 {
		errs = append(errs, errors.New("poll_default_limit must be positive"))
	}
	if c.IngressRateLimit < 0 {
		errs = append(errs, errors.New("ingress_rate_limit must not be negative"))
	}

	for name, d := range map[string]time.Duration{
		"discovery_timeout":   c.DiscoveryTimeout,
		"side_effect_timeout": c.SideEffectTimeout,
		"clipboard_poll":      c.ClipboardPoll,
		"resolve_retry":       c.ResolveRetry,
		"handshake_retry":     c.HandshakeRetry,
		"reconnect_delay":     c.ReconnectDelay,
		"shutdown_timeout":    c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.IngressURL != "" {
		if u, err := url.Parse(c.IngressURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("ingress_url %q must be an http(s) URL", c.IngressURL))
		}
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// PeerPort returns the port announced by the discovery responder.
func (c *Config) PeerPort() int {
	if c.AdvertisePort > 0 {
		return c.AdvertisePort
	}
	_, port, err := net.SplitHostPort(c.HTTPAddr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
