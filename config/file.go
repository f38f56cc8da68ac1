package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

const (
	envDBFile       = "CINEMATECA_DB_FILE"
	envEngine       = "CINEMATECA_ENGINE"
	envParallel     = "CINEMATECA_PARALLEL"
	envMetricsAddr  = "CINEMATECA_METRICS_ADDR"
	envAllowPartial = "CINEMATECA_ALLOW_PARTIAL"
)

// File is the on-disk configuration. The file is shared with the desktop
// widget, so keys it does not know about are ignored.
type File struct {
	DBFile           string            `json:"dbFile" yaml:"dbFile"`
	BaseURL          string            `json:"baseUrl" yaml:"baseUrl"`
	ListingPath      string            `json:"listingPath" yaml:"listingPath"`
	Venue            string            `json:"venue" yaml:"venue"`
	FallbackImageURL string            `json:"fallbackImageUrl" yaml:"fallbackImageUrl"`
	Engine           string            `json:"engine" yaml:"engine"`
	Headless         *bool             `json:"headless" yaml:"headless"`
	BrowserBin       string            `json:"browserBin" yaml:"browserBin"`
	Stealth          *bool             `json:"stealth" yaml:"stealth"`
	UserAgent        string            `json:"userAgent" yaml:"userAgent"`
	ExtraHeaders     map[string]string `json:"extraHeaders" yaml:"extraHeaders"`
	LaunchTimeout    string            `json:"launchTimeout" yaml:"launchTimeout"`
	Timeout          string            `json:"timeout" yaml:"timeout"`
	IdleTimeout      string            `json:"idleTimeout" yaml:"idleTimeout"`
	Concurrency      *int              `json:"concurrency" yaml:"concurrency"`
	MaxAttempts      int               `json:"maxAttempts" yaml:"maxAttempts"`
	RetryBackoff     string            `json:"retryBackoff" yaml:"retryBackoff"`
	RetryBackoffMax  string            `json:"retryBackoffMax" yaml:"retryBackoffMax"`
	AllowPartial     *bool             `json:"allowPartial" yaml:"allowPartial"`
	MetricsAddr      string            `json:"metricsAddr" yaml:"metricsAddr"`
	Interval         string            `json:"interval" yaml:"interval"`
	Selectors        FileSelectors     `json:"selectors" yaml:"selectors"`
}

// FileSelectors overrides individual entries of Selectors.
type FileSelectors struct {
	Container   string `json:"container" yaml:"container"`
	Card        string `json:"card" yaml:"card"`
	Place       string `json:"place" yaml:"place"`
	Image       string `json:"image" yaml:"image"`
	Title       string `json:"title" yaml:"title"`
	When        string `json:"when" yaml:"when"`
	Link        string `json:"link" yaml:"link"`
	StartTime   string `json:"startTime" yaml:"startTime"`
	EndTime     string `json:"endTime" yaml:"endTime"`
	Description string `json:"description" yaml:"description"`
}

// DefaultPath is the configuration file shared with the widget.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".config", "movies-cwb-ags-bar", "config.json")
}

// Load builds a Config from defaults, the file at path and the environment.
// An empty path means DefaultPath, which may be absent; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	file, err := ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		slog.Debug("no config file, using defaults", slog.String("path", path))
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := file.Apply(cfg); err != nil {
			return nil, fmt.Errorf("apply config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile reads name and, when present, name.local.ext merged on top of it.
// Files ending in .yaml or .yml are YAML, everything else is JSON5.
func ReadFile(name string) (File, error) {
	var out File
	allNotFound := true

	ext := filepath.Ext(name)
	localName := strings.TrimSuffix(name, ext) + ".local" + ext

	base, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(base) > 0 {
		if err := decode(ext, base, &out); err != nil {
			return out, fmt.Errorf("decode %s: %w", name, err)
		}
		allNotFound = false
	}

	local, err := os.ReadFile(localName)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(local) > 0 {
		var override File
		if err := decode(ext, local, &override); err != nil {
			return out, fmt.Errorf("decode %s: %w", localName, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, fmt.Errorf("merge %s: %w", localName, err)
		}
		slog.Info("merging config with local overrides", slog.String("local", localName))
		allNotFound = false
	}

	if allNotFound {
		return out, os.ErrNotExist
	}
	return out, nil
}

func decode(ext string, raw []byte, out *File) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(raw, out)
	default:
		return json5.Unmarshal(raw, out)
	}
}

// Apply copies every value set in f onto cfg.
func (f File) Apply(cfg *Config) error {
	setString(&cfg.DBFile, expandHome(f.DBFile))
	setString(&cfg.BaseURL, f.BaseURL)
	setString(&cfg.ListingPath, f.ListingPath)
	setString(&cfg.Venue, f.Venue)
	setString(&cfg.FallbackImageURL, f.FallbackImageURL)
	setString(&cfg.Engine, f.Engine)
	setString(&cfg.BrowserBin, f.BrowserBin)
	setString(&cfg.UserAgent, f.UserAgent)
	setString(&cfg.MetricsAddr, f.MetricsAddr)

	if f.Headless != nil {
		cfg.Headless = *f.Headless
	}
	if f.Stealth != nil {
		cfg.Stealth = *f.Stealth
	}
	if f.AllowPartial != nil {
		cfg.AllowPartial = *f.AllowPartial
	}
	if f.Concurrency != nil {
		cfg.Concurrency = *f.Concurrency
	}
	if f.MaxAttempts > 0 {
		cfg.MaxAttempts = f.MaxAttempts
	}
	if len(f.ExtraHeaders) > 0 {
		cfg.ExtraHeaders = f.ExtraHeaders
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"launchTimeout", f.LaunchTimeout, &cfg.LaunchTimeout},
		{"timeout", f.Timeout, &cfg.Timeout},
		{"idleTimeout", f.IdleTimeout, &cfg.IdleTimeout},
		{"retryBackoff", f.RetryBackoff, &cfg.RetryBackoff},
		{"retryBackoffMax", f.RetryBackoffMax, &cfg.RetryBackoffMax},
		{"interval", f.Interval, &cfg.Interval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	s := &cfg.Selectors
	setString(&s.Container, f.Selectors.Container)
	setString(&s.Card, f.Selectors.Card)
	setString(&s.Place, f.Selectors.Place)
	setString(&s.Image, f.Selectors.Image)
	setString(&s.Title, f.Selectors.Title)
	setString(&s.When, f.Selectors.When)
	setString(&s.Link, f.Selectors.Link)
	setString(&s.StartTime, f.Selectors.StartTime)
	setString(&s.EndTime, f.Selectors.EndTime)
	setString(&s.Description, f.Selectors.Description)
	return nil
}

// ApplyEnv applies CINEMATECA_* environment overrides.
func ApplyEnv(cfg *Config) error {
	if v, ok := EnvString(envDBFile); ok {
		cfg.DBFile = expandHome(v)
	}
	if v, ok := EnvString(envEngine); ok {
		cfg.Engine = strings.ToLower(v)
	}
	if v, ok := EnvString(envMetricsAddr); ok {
		cfg.MetricsAddr = v
	}
	if v, ok, err := EnvInt(envParallel); err != nil {
		return err
	} else if ok {
		cfg.Concurrency = v
	}
	if v, ok, err := EnvBool(envAllowPartial); err != nil {
		return err
	} else if ok {
		cfg.AllowPartial = v
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
