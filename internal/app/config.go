package app

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"promptctl/internal/domain"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// ConfigFilename is read from the home directory when present.
const ConfigFilename = "config.yaml"

// ReconnectConfig is the push channel's backoff policy.
type ReconnectConfig struct {
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
	MaxTries uint          `yaml:"max_tries"` // 0 retries forever
}

// Config holds runtime wiring options for building the app.
type Config struct {
	Home            string          `yaml:"-"`          // state directory, e.g. $HOME/.promptctl
	ServerURL       string          `yaml:"server_url"` // prompt service base URL
	Storage         string          `yaml:"storage"`    // file | sqlite
	Passphrase      string          `yaml:"-"`          // seals file storage when set; never read from the file
	HTTPTimeout     time.Duration   `yaml:"http_timeout"`
	RefreshInterval time.Duration   `yaml:"refresh_interval"`
	ProofTTL        time.Duration   `yaml:"proof_ttl"`
	Reconnect       ReconnectConfig `yaml:"reconnect"`
	CookieMirror    bool            `yaml:"cookie_mirror"`
	LogLevel        string          `yaml:"log_level"`
	LogFormat       string          `yaml:"log_format"` // text | json

	HTTP *http.Client `yaml:"-"` // optional; replaces the API client's transport
}

// DefaultConfig returns the built-in settings rooted at home.
func DefaultConfig(home string) Config {
	return Config{
		Home:            home,
		ServerURL:       "http://127.0.0.1:8080",
		Storage:         StorageFile,
		HTTPTimeout:     15 * time.Second,
		RefreshInterval: 4 * time.Minute,
		ProofTTL:        5 * time.Minute,
		Reconnect:       ReconnectConfig{Initial: time.Second, Max: 30 * time.Second},
		CookieMirror:    true,
		LogLevel:        "WARN",
		LogFormat:       "text",
	}
}

// DefaultHome returns $PROMPTCTL_HOME or ~/.promptctl.
func DefaultHome() (string, error) {
	if h := os.Getenv("PROMPTCTL_HOME"); h != "" {
		return h, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".promptctl"), nil
}

// LoadConfig layers defaults, .env, <home>/config.yaml and PROMPTCTL_*
// variables. An empty home means DefaultHome. Flags are applied by the
// caller afterwards.
func LoadConfig(home string) (Config, error) {
	// Existing environment wins over .env; a missing .env is fine.
	_ = godotenv.Load()

	if home == "" {
		var err error
		if home, err = DefaultHome(); err != nil {
			return Config{}, err
		}
	}
	cfg := DefaultConfig(home)

	if err := cfg.readFile(filepath.Join(home, ConfigFilename)); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"PROMPTCTL_SERVER":     &c.ServerURL,
		"PROMPTCTL_STORAGE":    &c.Storage,
		"PROMPTCTL_PASSPHRASE": &c.Passphrase,
		"PROMPTCTL_LOG_LEVEL":  &c.LogLevel,
		"PROMPTCTL_LOG_FORMAT": &c.LogFormat,
	}
	for k, p := range str {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			*p = v
		}
	}

	dur := map[string]*time.Duration{
		"PROMPTCTL_HTTP_TIMEOUT":     &c.HTTPTimeout,
		"PROMPTCTL_REFRESH_INTERVAL": &c.RefreshInterval,
		"PROMPTCTL_PROOF_TTL":        &c.ProofTTL,
	}
	for k, p := range dur {
		v, ok := os.LookupEnv(k)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*p = d
	}

	if v, ok := os.LookupEnv("PROMPTCTL_COOKIE_MIRROR"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PROMPTCTL_COOKIE_MIRROR: %w", err)
		}
		c.CookieMirror = b
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.Home == "" {
		return &domain.ValidationError{Field: "home", Reason: "missing"}
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &domain.ValidationError{Field: "server_url", Reason: fmt.Sprintf("not an http(s) URL: %q", c.ServerURL)}
	}
	switch strings.ToLower(c.Storage) {
	case StorageFile, StorageSQLite:
	default:
		return &domain.ValidationError{Field: "storage", Reason: fmt.Sprintf("unknown backend %q", c.Storage)}
	}
	if c.RefreshInterval <= 0 || c.ProofTTL <= 0 {
		return &domain.ValidationError{Field: "refresh_interval", Reason: "intervals must be positive"}
	}
	if c.RefreshInterval >= c.ProofTTL {
		return &domain.ValidationError{Field: "refresh_interval", Reason: "must be shorter than proof_ttl"}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return &domain.ValidationError{Field: "log_level", Reason: err.Error()}
	}
	return nil
}
