package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "dayplan/internal/log"
)

// Defaults applied by DefaultConfig and Normalize.
const (
	DefaultListen                = "127.0.0.1:8080"
	DefaultTimezone              = "UTC"
	DefaultWeekStart             = "monday"
	DefaultRefresh               = "*/15 * * * *"
	DefaultHorizonDays           = 7
	DefaultBackfillDays          = 1
	DefaultMaxOccurrencesPerSeed = 5000
	DefaultLogLevel              = "info"
	DefaultCacheDir              = "/var/lib/dayplan/ics-cache"
)

// ICSConfig describes a single ICS source. Exactly one of URL and Path is set.
type ICSConfig struct {
	// ID is an internal identifier used as the event SourceID and in logs.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// URL is an http(s) subscription endpoint.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Path is a local .ics file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that defines the local calendar used for
	// recurrence arithmetic and the snapshot horizon (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday", reported to API clients
	// for calendar layout. Weekly recurrence blocks always start on Monday.
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a standard 5-field cron spec for periodic rebuilds.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the number of future days in the snapshot.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// BackfillDays is the number of past days in the snapshot.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// MaxOccurrencesPerSeed caps how many occurrences one seed may
	// contribute to the working set.
	MaxOccurrencesPerSeed int `yaml:"max_occurrences_per_seed" json:"max_occurrences_per_seed"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir holds the ETag/Last-Modified cache for URL sources.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ICS is the list of event sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                DefaultListen,
		Timezone:              DefaultTimezone,
		WeekStart:             DefaultWeekStart,
		RefreshCron:           DefaultRefresh,
		HorizonDays:           DefaultHorizonDays,
		BackfillDays:          DefaultBackfillDays,
		MaxOccurrencesPerSeed: DefaultMaxOccurrencesPerSeed,
		LogLevel:              DefaultLogLevel,
		CacheDir:              DefaultCacheDir,
		ICS:                   []ICSConfig{},
		BasicAuth:             nil,
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly. Unknown week_start and
// log_level values are logged and replaced.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}

	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	switch c.WeekStart {
	case "monday", "sunday":
	case "":
		c.WeekStart = DefaultWeekStart
	default:
		appLog.Warn("config: unknown week_start, using default", "value", c.WeekStart, "default", DefaultWeekStart)
		c.WeekStart = DefaultWeekStart
	}

	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefresh
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = DefaultHorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.MaxOccurrencesPerSeed <= 0 {
		c.MaxOccurrencesPerSeed = DefaultMaxOccurrencesPerSeed
	}

	if _, ok := appLog.ParseLevel(c.LogLevel); !ok {
		appLog.Warn("config: unknown log_level, using default", "value", c.LogLevel, "default", DefaultLogLevel)
		c.LogLevel = DefaultLogLevel
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics-%d", i+1)
		}
	}
}

// Validate reports the first setting that cannot be used as-is: an
// unparseable refresh spec, an unknown timezone, an ICS source without
// exactly one of url and path, or a basic_auth block missing either
// credential. Call Normalize first.
func (c *Config) Validate() error {
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}

	seen := make(map[string]bool, len(c.ICS))
	for _, src := range c.ICS {
		if (src.URL == "") == (src.Path == "") {
			return fmt.Errorf("config: ics source %q needs exactly one of url and path", src.ID)
		}
		if src.URL != "" && !strings.HasPrefix(src.URL, "http://") && !strings.HasPrefix(src.URL, "https://") {
			return fmt.Errorf("config: ics source %q: url must be http or https", src.ID)
		}
		if seen[src.ID] {
			return fmt.Errorf("config: duplicate ics source id %q", src.ID)
		}
		seen[src.ID] = true
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		return errors.New("config: basic_auth requires a username and a password")
	}
	return nil
}

// Location resolves Timezone, falling back to UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Warn("config: cannot load timezone, using UTC", "timezone", c.Timezone, "err", err)
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written with 0600 perms
// and returned. Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			appLog.Info("config: wrote defaults", "path", path)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file in the same directory,
// then rename) with 0600 permissions. The parent directory is created
// with 0700 if missing.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".dayplan-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
