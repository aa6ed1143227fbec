package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage   StorageConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	API       APIConfig
	LogLevel  string
	Sites     map[string]*SiteConfig
}

type StorageConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend     string
	SQLitePath  string
	PostgresURL string
}

type CacheConfig struct {
	Dir       string
	TTL       time.Duration
	Retention time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	FetchConcurrency int
	FetchTimeout     time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
}

type APIConfig struct {
	Addr string
}

// SiteConfig describes one supported agency site. Sites live as YAML files
// under config/sites/; adding a site means adding a file and an adapter.
type SiteConfig struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Adapter     string        `yaml:"adapter"`
	BaseURL     string        `yaml:"base_url"`
	Strategy    string        `yaml:"strategy"` // paginated | progressive
	Sections    []SiteSection `yaml:"sections"`
	PageCeiling int           `yaml:"page_ceiling"`
	PageSize    int           `yaml:"page_size"`
	RateLimitMS int           `yaml:"rate_limit_ms"`
	Render      bool          `yaml:"render"`
}

// SiteSection is one listing index (a contract section) to discover from.
// The section's contract is the fallback for listings whose pages omit it.
type SiteSection struct {
	Contract string `yaml:"contract"`
	Path     string `yaml:"path"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "sqlite"),
			SQLitePath:  getEnv("SQLITE_PATH", "homefinder.db"),
			PostgresURL: os.Getenv("POSTGRES_URL"),
		},
		Cache: CacheConfig{
			Dir:       getEnv("CACHE_DIR", "snapshot_cache"),
			TTL:       getEnvDuration("CACHE_TTL", time.Hour),
			Retention: getEnvDuration("CACHE_RETENTION", 30*24*time.Hour),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Scraper: ScraperConfig{
			FetchConcurrency: getEnvInt("FETCH_CONCURRENCY", 4),
			FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", 20*time.Second),
			MaxRetries:       getEnvInt("FETCH_MAX_RETRIES", 3),
			RetryBaseDelay:   getEnvDuration("FETCH_RETRY_BASE_DELAY", time.Second),
		},
		API: APIConfig{
			Addr: getEnv("API_ADDR", ":8080"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Sites:    make(map[string]*SiteConfig),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadSiteConfigs("config/sites"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSiteConfigs(configDir string) error {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("site config %s: %w", path, err)
		}
		site.applyDefaults()
		if err := site.validate(); err != nil {
			return fmt.Errorf("site config %s: %w", path, err)
		}

		c.Sites[site.ID] = &site
	}

	return nil
}

func (s *SiteConfig) applyDefaults() {
	if s.PageCeiling == 0 {
		s.PageCeiling = 100
	}
	if s.PageSize == 0 {
		s.PageSize = 12
	}
	if s.RateLimitMS == 0 {
		s.RateLimitMS = 500
	}
	if s.Strategy == "" {
		s.Strategy = "paginated"
	}
	if s.Adapter == "" {
		s.Adapter = s.ID
	}
}

func (s *SiteConfig) validate() error {
	if s.ID == "" {
		return fmt.Errorf("missing id")
	}
	if s.BaseURL == "" {
		return fmt.Errorf("missing base_url")
	}
	if s.Strategy != "paginated" && s.Strategy != "progressive" {
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}
	if len(s.Sections) == 0 {
		return fmt.Errorf("no listing sections")
	}
	for _, sec := range s.Sections {
		if sec.Contract != "sell" && sec.Contract != "rent" {
			return fmt.Errorf("section %q: contract must be sell or rent", sec.Path)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
