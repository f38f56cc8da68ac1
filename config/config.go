package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Selectors locates the fields of the listing and detail pages.
type Selectors struct {
	Container   string
	Card        string
	Place       string
	Image       string
	Title       string
	When        string
	Link        string
	StartTime   string
	EndTime     string
	Description string
}

// Config holds scraper configuration.
type Config struct {
	BaseURL          string
	ListingPath      string
	Venue            string
	FallbackImageURL string
	UntitledLabel    string
	DescriptionLabel string
	Selectors        Selectors

	Engine        string // rod or static
	Headless      bool
	BrowserBin    string
	Stealth       bool
	UserAgent     string
	ExtraHeaders  map[string]string
	LaunchTimeout time.Duration
	Timeout       time.Duration
	IdleTimeout   time.Duration

	Concurrency     int
	MaxAttempts     int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	AllowPartial    bool

	DBFile             string
	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int
	ExportFile         string
	ExportFormat       string // empty, csv, json, or dual

	MetricsAddr string
	Interval    time.Duration
	Verbose     bool
}

// DefaultSelectors matches the layout of the Curitiba events guide.
func DefaultSelectors() Selectors {
	return Selectors{
		Container:   "body > section:nth-child(7) > div:nth-child(1) > div:nth-child(1) > div:nth-child(2) > div:nth-child(4) > div:nth-child(1)",
		Card:        "div",
		Place:       ".evento-conteudo div p a",
		Image:       ".evento-midia img",
		Title:       ".evento-conteudo h5",
		When:        ".evento-conteudo p.evento-info:first-of-type",
		Link:        ".evento-card>a",
		StartTime:   "ul[class='lista-data-evento'] li:nth-child(1)",
		EndTime:     "ul[class='lista-data-evento'] li:nth-child(2)",
		Description: "#descricao",
	}
}

// DefaultConfig returns the settings used against the public guide.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://guia.curitiba.pr.gov.br",
		ListingPath:      "/Evento/Listar/?pesquisa=cinemateca",
		Venue:            "cinemateca de curitiba",
		FallbackImageURL: "https://mid-noticias.curitiba.pr.gov.br/2025/00489724.jpg",
		UntitledLabel:    "Evento sem nome",
		DescriptionLabel: "Descrição",
		Selectors:        DefaultSelectors(),

		Engine:    "rod",
		Headless:  true,
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		ExtraHeaders: map[string]string{
			"sec-ch-ua": `"Chromium";v="117", "Not;A=Brand";v="8"`,
		},
		LaunchTimeout: 20 * time.Second,
		Timeout:       20 * time.Second,
		IdleTimeout:   20 * time.Second,

		Concurrency:     4,
		MaxAttempts:     3,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 4 * time.Second,
		AllowPartial:    false,

		DBFile:             "cinemateca.db",
		PipelineBufferSize: 256,
		BatchSize:          32,
		DedupeMaxSize:      10000,
		ExportFormat:       "",

		Verbose: false,
	}
}

// ListingURL is the absolute address of the listing page.
func (c *Config) ListingURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + c.ListingPath
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if !strings.HasPrefix(c.ListingPath, "/") {
		return fmt.Errorf("listing path must start with /")
	}
	if strings.TrimSpace(c.Venue) == "" {
		return fmt.Errorf("venue cannot be empty")
	}
	if c.Selectors.Container == "" || c.Selectors.Card == "" {
		return fmt.Errorf("container and card selectors cannot be empty")
	}

	if c.Engine != "rod" && c.Engine != "static" {
		return fmt.Errorf("engine must be rod or static")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.LaunchTimeout <= 0 {
		return fmt.Errorf("launch timeout must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout cannot be negative")
	}

	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency cannot be negative")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}

	if c.DBFile == "" {
		return fmt.Errorf("db file cannot be empty")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	switch c.ExportFormat {
	case "", "csv", "json", "dual":
	default:
		return fmt.Errorf("export format must be csv, json, or dual")
	}
	if c.ExportFormat != "" && c.ExportFile == "" {
		return fmt.Errorf("export file cannot be empty when an export format is set")
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval cannot be negative")
	}

	return nil
}

// EnvString returns the value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvBool parses key as a boolean when it is set.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}
