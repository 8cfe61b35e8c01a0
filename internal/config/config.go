// Package config handles the XDG configuration directory, file paths and
// the optional config.toml.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	// AppName is the application directory name.
	AppName = "weeklet"

	// OAuthClientFile is the OAuth client credentials filename.
	OAuthClientFile = "oauth_client.json"

	// TokenFile is the stored OAuth token filename.
	TokenFile = "token.json"

	// ConfigFile is the optional settings filename.
	ConfigFile = "config.toml"
)

// Backend names accepted in config.toml.
const (
	BackendGoogleTasks = "googletasks"
	BackendSyncDir     = "syncdir"
	BackendMemory      = "memory"
	BackendLocal       = "local"
)

const (
	defaultBackend     = BackendSyncDir
	defaultDebounceMS  = 150
	defaultPollSeconds = 30
	defaultStorageList = "weeklet"
	defaultLogLevel    = "warn"
)

// Config holds configuration paths and settings.
type Config struct {
	// Dir is the configuration directory path.
	Dir string

	// Debug enables debug logging.
	Debug bool

	// Quiet suppresses informational output.
	Quiet bool

	// Backend selects the synchronized store.
	Backend string

	// SyncDir is the folder used by the syncdir backend.
	SyncDir string

	// LocalDB is the SQLite file of the local fallback store.
	LocalDB string

	// DebounceMS is the write coalescer quiet period in milliseconds.
	DebounceMS int

	// PollSeconds is how often the googletasks backend polls for changes.
	PollSeconds int

	// StorageList is the Google Tasks list that holds the records.
	StorageList string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// EnvVarMapping maps environment variables to config.toml keys.
var EnvVarMapping = map[string]string{
	"WEEKLET_BACKEND":      "backend",
	"WEEKLET_SYNC_DIR":     "sync_dir",
	"WEEKLET_LOCAL_DB":     "local_db",
	"WEEKLET_DEBOUNCE_MS":  "debounce_ms",
	"WEEKLET_POLL_SECONDS": "poll_seconds",
	"WEEKLET_STORAGE_LIST": "storage_list",
	"WEEKLET_LOG_LEVEL":    "log_level",
}

// New creates a Config for the default or specified config directory.
// If configDir is empty, uses XDG_CONFIG_HOME/weeklet or $HOME/.config/weeklet.
// Settings come from config.toml in that directory when present, then from
// WEEKLET_* environment variables.
func New(configDir string) (*Config, error) {
	dir := configDir
	if dir == "" {
		dir = DefaultConfigDir()
	}
	cfg := Defaults(dir)

	if err := cfg.load(filepath.Join(dir, ConfigFile)); err != nil {
		return nil, err
	}
	cfg.ApplyEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when config.toml is missing.
func Defaults(dir string) *Config {
	return &Config{
		Dir:         dir,
		Backend:     defaultBackend,
		SyncDir:     filepath.Join(dir, "sync"),
		LocalDB:     filepath.Join(dir, "local.db"),
		DebounceMS:  defaultDebounceMS,
		PollSeconds: defaultPollSeconds,
		StorageList: defaultStorageList,
		LogLevel:    defaultLogLevel,
	}
}

// DefaultConfigDir returns the default configuration directory.
// Uses XDG_CONFIG_HOME if set, otherwise $HOME/.config.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home can't be determined
		return AppName
	}
	return filepath.Join(home, ".config", AppName)
}

func (c *Config) load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		Backend     string `toml:"backend"`
		SyncDir     string `toml:"sync_dir"`
		LocalDB     string `toml:"local_db"`
		DebounceMS  *int   `toml:"debounce_ms"`
		PollSeconds *int   `toml:"poll_seconds"`
		StorageList string `toml:"storage_list"`
		LogLevel    string `toml:"log_level"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.Backend); v != "" {
		c.Backend = v
	}
	if v := strings.TrimSpace(raw.SyncDir); v != "" {
		c.SyncDir = expandPath(v)
	}
	if v := strings.TrimSpace(raw.LocalDB); v != "" {
		c.LocalDB = expandPath(v)
	}
	if raw.DebounceMS != nil {
		c.DebounceMS = *raw.DebounceMS
	}
	if raw.PollSeconds != nil {
		c.PollSeconds = *raw.PollSeconds
	}
	if v := strings.TrimSpace(raw.StorageList); v != "" {
		c.StorageList = v
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		c.LogLevel = v
	}
	return nil
}

// ApplyEnvVars applies environment variable overrides.
// Returns the config keys that were overridden, sorted.
func (c *Config) ApplyEnvVars() []string {
	var overridden []string
	for envVar, key := range EnvVarMapping {
		value := strings.TrimSpace(os.Getenv(envVar))
		if value == "" {
			continue
		}
		if c.applyEnvVar(key, value) {
			overridden = append(overridden, key)
		}
	}
	sort.Strings(overridden)
	return overridden
}

func (c *Config) applyEnvVar(key, value string) bool {
	switch key {
	case "backend":
		c.Backend = value
	case "sync_dir":
		c.SyncDir = expandPath(value)
	case "local_db":
		c.LocalDB = expandPath(value)
	case "debounce_ms":
		v, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		c.DebounceMS = v
	case "poll_seconds":
		v, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		c.PollSeconds = v
	case "storage_list":
		c.StorageList = value
	case "log_level":
		c.LogLevel = value
	default:
		return false
	}
	return true
}

// Validate checks the settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGoogleTasks, BackendSyncDir, BackendMemory, BackendLocal:
	default:
		return fmt.Errorf("invalid backend %q (want googletasks, syncdir, memory or local)", c.Backend)
	}
	if c.DebounceMS < 0 {
		return fmt.Errorf("debounce_ms must not be negative")
	}
	if c.PollSeconds <= 0 {
		return fmt.Errorf("poll_seconds must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// DebounceInterval returns the coalescer quiet period.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// PollInterval returns the googletasks polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// OAuthClientPath returns the path to the OAuth client credentials file.
func (c *Config) OAuthClientPath() string {
	return filepath.Join(c.Dir, OAuthClientFile)
}

// TokenPath returns the path to the stored OAuth token file.
func (c *Config) TokenPath() string {
	return filepath.Join(c.Dir, TokenFile)
}

// EnsureDir creates the config directory if it doesn't exist.
// Directory is created with mode 0700.
func (c *Config) EnsureDir() error {
	return os.MkdirAll(c.Dir, 0700)
}

// HasOAuthClient checks if the OAuth client credentials file exists.
func (c *Config) HasOAuthClient() bool {
	_, err := os.Stat(c.OAuthClientPath())
	return err == nil
}

// HasToken checks if the token file exists.
func (c *Config) HasToken() bool {
	_, err := os.Stat(c.TokenPath())
	return err == nil
}

// RemoveToken deletes the token file.
func (c *Config) RemoveToken() error {
	return os.Remove(c.TokenPath())
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
