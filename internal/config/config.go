package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/nasdesk/nasdesk/internal/constants"
)

// Proxy modes understood by the HTTP layer.
const (
	ProxyModeNone   = "no-proxy"
	ProxyModeSystem = "system"
	ProxyModeBasic  = "basic"
	ProxyModeNTLM   = "ntlm"
)

// Config holds application settings that are not per-profile.
//
// Config file location: see DefaultConfigPath.
//
// INI format:
//
//	[connection]
//	nas_url = http://192.168.1.10:5000
//	username = alice
//	insecure_skip_verify = false
//	request_timeout_seconds = 30
//	max_retries = 2
//
//	[proxy]
//	mode = no-proxy
//	host =
//	port = 8080
//	user =
//	no_proxy = localhost,192.168.0.0/16
//	warmup = false
//
//	[thumbnails]
//	cache_size = 512
//	ttl_minutes = 30
//
//	[storage]
//	profiles_path =
//
//	[logging]
//	file =
type Config struct {
	// Connection defaults used when no profile or flag supplies them
	NASURL   string
	Username string

	// InsecureSkipVerify accepts self-signed NAS certificates
	InsecureSkipVerify bool

	// RequestTimeout bounds JSON API calls; streaming transfers use their context
	RequestTimeout time.Duration

	// MaxRetries bounds retries of server-busy responses
	MaxRetries int

	// Proxy settings
	ProxyMode     string
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string // never persisted
	NoProxy       string
	ProxyWarmup   bool

	// Thumbnail cache
	ThumbnailCacheSize int
	ThumbnailTTL       time.Duration

	// ProfilesPath overrides DefaultProfilesPath
	ProfilesPath string

	// LogFile, when set, receives JSON log lines
	LogFile string
}

// Validation errors
var (
	ErrInvalidProxyMode = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
	ErrMissingProxyHost = errors.New("proxy host is required for basic and ntlm proxy modes")
	ErrInvalidProxyPort = errors.New("proxy port must be between 1 and 65535")
	ErrInvalidTimeout   = errors.New("request timeout must be positive")
	ErrInvalidCacheSize = errors.New("thumbnail cache size must be positive")
)

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		RequestTimeout:     constants.APIRequestTimeout,
		MaxRetries:         constants.MaxRetries,
		ProxyMode:          ProxyModeNone,
		ProxyPort:          8080,
		ThumbnailCacheSize: constants.ThumbnailCacheSize,
		ThumbnailTTL:       constants.ThumbnailCacheTTL,
	}
}

// LoadConfig loads configuration from an INI file and applies environment overrides.
// If the file doesn't exist, returns defaults (plus overrides) and no error.
// If the file exists but cannot be parsed, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = DefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		iniFile, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}

		conn := iniFile.Section("connection")
		cfg.NASURL = conn.Key("nas_url").String()
		cfg.Username = conn.Key("username").String()
		cfg.InsecureSkipVerify = conn.Key("insecure_skip_verify").MustBool(false)
		cfg.RequestTimeout = time.Duration(conn.Key("request_timeout_seconds").MustInt(int(constants.APIRequestTimeout/time.Second))) * time.Second
		cfg.MaxRetries = conn.Key("max_retries").MustInt(constants.MaxRetries)

		proxy := iniFile.Section("proxy")
		cfg.ProxyMode = proxy.Key("mode").MustString(ProxyModeNone)
		cfg.ProxyHost = proxy.Key("host").String()
		cfg.ProxyPort = proxy.Key("port").MustInt(8080)
		cfg.ProxyUser = proxy.Key("user").String()
		cfg.NoProxy = proxy.Key("no_proxy").String()
		cfg.ProxyWarmup = proxy.Key("warmup").MustBool(false)

		thumbs := iniFile.Section("thumbnails")
		cfg.ThumbnailCacheSize = thumbs.Key("cache_size").MustInt(constants.ThumbnailCacheSize)
		cfg.ThumbnailTTL = time.Duration(thumbs.Key("ttl_minutes").MustInt(int(constants.ThumbnailCacheTTL/time.Minute))) * time.Minute

		cfg.ProfilesPath = iniFile.Section("storage").Key("profiles_path").String()
		cfg.LogFile = iniFile.Section("logging").Key("file").String()
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets the environment override the file for scripted use.
func (cfg *Config) applyEnv() {
	if v := os.Getenv("NASDESK_URL"); v != "" {
		cfg.NASURL = v
	}
	if v := os.Getenv("NASDESK_USER"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("NASDESK_PROXY_MODE"); v != "" {
		cfg.ProxyMode = v
	}
	if v := os.Getenv("NASDESK_PROXY_PASSWORD"); v != "" {
		cfg.ProxyPassword = v
	}
}

// SaveConfig writes cfg to path (DefaultConfigPath when empty).
// The proxy password is never written.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	iniFile := ini.Empty()

	conn, err := iniFile.NewSection("connection")
	if err != nil {
		return fmt.Errorf("failed to create connection section: %w", err)
	}
	conn.Key("nas_url").SetValue(cfg.NASURL)
	conn.Key("username").SetValue(cfg.Username)
	conn.Key("insecure_skip_verify").SetValue(strconv.FormatBool(cfg.InsecureSkipVerify))
	conn.Key("request_timeout_seconds").SetValue(strconv.Itoa(int(cfg.RequestTimeout / time.Second)))
	conn.Key("max_retries").SetValue(strconv.Itoa(cfg.MaxRetries))

	proxy, err := iniFile.NewSection("proxy")
	if err != nil {
		return fmt.Errorf("failed to create proxy section: %w", err)
	}
	proxy.Key("mode").SetValue(cfg.ProxyMode)
	proxy.Key("host").SetValue(cfg.ProxyHost)
	proxy.Key("port").SetValue(strconv.Itoa(cfg.ProxyPort))
	proxy.Key("user").SetValue(cfg.ProxyUser)
	proxy.Key("no_proxy").SetValue(cfg.NoProxy)
	proxy.Key("warmup").SetValue(strconv.FormatBool(cfg.ProxyWarmup))

	thumbs, err := iniFile.NewSection("thumbnails")
	if err != nil {
		return fmt.Errorf("failed to create thumbnails section: %w", err)
	}
	thumbs.Key("cache_size").SetValue(strconv.Itoa(cfg.ThumbnailCacheSize))
	thumbs.Key("ttl_minutes").SetValue(strconv.Itoa(int(cfg.ThumbnailTTL / time.Minute)))

	storage, err := iniFile.NewSection("storage")
	if err != nil {
		return fmt.Errorf("failed to create storage section: %w", err)
	}
	storage.Key("profiles_path").SetValue(cfg.ProfilesPath)

	logging, err := iniFile.NewSection("logging")
	if err != nil {
		return fmt.Errorf("failed to create logging section: %w", err)
	}
	logging.Key("file").SetValue(cfg.LogFile)

	return saveINIAtomic(iniFile, path)
}

// saveINIAtomic writes f to path via a temporary file and rename, owner-only.
func saveINIAtomic(f *ini.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Validate checks the settings the HTTP layer depends on.
func (cfg *Config) Validate() error {
	switch strings.ToLower(cfg.ProxyMode) {
	case ProxyModeNone, "", ProxyModeSystem:
	case ProxyModeBasic, ProxyModeNTLM:
		if strings.TrimSpace(cfg.ProxyHost) == "" {
			return ErrMissingProxyHost
		}
		if cfg.ProxyPort < 1 || cfg.ProxyPort > 65535 {
			return ErrInvalidProxyPort
		}
	default:
		return ErrInvalidProxyMode
	}
	if cfg.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if cfg.ThumbnailCacheSize <= 0 {
		return ErrInvalidCacheSize
	}
	return nil
}

// ResolvedProfilesPath returns ProfilesPath or the default location.
func (cfg *Config) ResolvedProfilesPath() string {
	if cfg.ProfilesPath != "" {
		return cfg.ProfilesPath
	}
	return DefaultProfilesPath()
}

// Set updates one setting by its "section.key" name, as used by `nasdesk config set`.
func (cfg *Config) Set(name, value string) error {
	switch name {
	case "connection.nas_url":
		cfg.NASURL = value
	case "connection.username":
		cfg.Username = value
	case "connection.insecure_skip_verify":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q: %w", value, err)
		}
		cfg.InsecureSkipVerify = b
	case "connection.request_timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", value, err)
		}
		cfg.RequestTimeout = time.Duration(n) * time.Second
	case "connection.max_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", value, err)
		}
		cfg.MaxRetries = n
	case "proxy.mode":
		cfg.ProxyMode = value
	case "proxy.host":
		cfg.ProxyHost = value
	case "proxy.port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", value, err)
		}
		cfg.ProxyPort = n
	case "proxy.user":
		cfg.ProxyUser = value
	case "proxy.no_proxy":
		cfg.NoProxy = value
	case "proxy.warmup":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q: %w", value, err)
		}
		cfg.ProxyWarmup = b
	case "thumbnails.cache_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", value, err)
		}
		cfg.ThumbnailCacheSize = n
	case "thumbnails.ttl_minutes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", value, err)
		}
		cfg.ThumbnailTTL = time.Duration(n) * time.Minute
	case "storage.profiles_path":
		cfg.ProfilesPath = value
	case "logging.file":
		cfg.LogFile = value
	default:
		return fmt.Errorf("unknown setting %q", name)
	}
	return cfg.Validate()
}
