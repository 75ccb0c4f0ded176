package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"review_scrooper/parser"
)

type Config struct {
	Browser   BrowserConfig
	Harvest   HarvestConfig
	Storage   StorageConfig
	S3        S3Config
	Scheduler SchedulerConfig
	OutputDir string
	LogPath   string
	// MirrorImages downloads review images and uploads them to S3.
	MirrorImages bool
	Site         *SiteConfig
}

type BrowserConfig struct {
	Driver    string
	Headless  bool
	ProxyURL  string
	UserAgent string
}

type HarvestConfig struct {
	NavTimeout    time.Duration
	WaitTimeout   time.Duration
	OpTimeout     time.Duration
	Settle        time.Duration
	ElementSettle time.Duration
	StallLimit    int
	MaxIterations int
	MaxDuration   time.Duration
}

type StorageConfig struct {
	DBPath      string
	PostgresURL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type SchedulerConfig struct {
	Cron     string
	Interval time.Duration
}

// SiteConfig holds everything the target site may change without notice.
type SiteConfig struct {
	ID               string        `yaml:"id"`
	Name             string        `yaml:"name"`
	ReviewSelector   string        `yaml:"review_selector"`
	LoadMoreSelector string        `yaml:"load_more_selector"`
	ReviewIDAttr     string        `yaml:"review_id_attr"`
	StateMarker      string        `yaml:"state_marker"`
	ListingIDPattern string        `yaml:"listing_id_pattern"`
	OutputPrefix     string        `yaml:"output_prefix"`
	Patterns         PatternConfig `yaml:"patterns"`
	Listings         []string      `yaml:"listings"`
}

type PatternConfig struct {
	RatedMarker string `yaml:"rated_marker"`
	Tenure      string `yaml:"tenure"`
	Rating      string `yaml:"rating"`
	PostDate    string `yaml:"post_date"`
	Response    string `yaml:"response"`
}

// ParserPatterns fills unset patterns with the parser defaults.
func (p PatternConfig) ParserPatterns() parser.Patterns {
	def := parser.DefaultPatterns()
	return parser.Patterns{
		RatedMarker: orDefault(p.RatedMarker, def.RatedMarker),
		Tenure:      orDefault(p.Tenure, def.Tenure),
		Rating:      orDefault(p.Rating, def.Rating),
		PostDate:    orDefault(p.PostDate, def.PostDate),
		Response:    orDefault(p.Response, def.Response),
	}
}

func DefaultSite() *SiteConfig {
	return &SiteConfig{
		ID:               "airbnb",
		Name:             "Airbnb",
		ReviewSelector:   ".r1are2x1.atm_gq_1vi7ecw.dir.dir-ltr",
		LoadMoreSelector: `button[aria-label*="Load more reviews"],button[data-testid="reviews-load-more-button"]`,
		ReviewIDAttr:     "data-review-id",
		StateMarker:      "window.__INITIAL_STATE__",
		ListingIDPattern: `/rooms/(\d+)`,
		OutputPrefix:     "airbnb_reviews",
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Browser: BrowserConfig{
			Driver:    getEnv("BROWSER_DRIVER", "playwright"),
			Headless:  getEnvBool("HEADLESS", true),
			ProxyURL:  os.Getenv("PROXY_URL"),
			UserAgent: os.Getenv("USER_AGENT"),
		},
		Harvest: HarvestConfig{
			NavTimeout:    getEnvDuration("NAV_TIMEOUT", 60*time.Second),
			WaitTimeout:   getEnvDuration("WAIT_TIMEOUT", 20*time.Second),
			OpTimeout:     getEnvDuration("OP_TIMEOUT", 10*time.Second),
			Settle:        getEnvDuration("SETTLE_INTERVAL", 2*time.Second),
			ElementSettle: getEnvDuration("ELEMENT_SETTLE", 500*time.Millisecond),
			StallLimit:    getEnvInt("STALL_LIMIT", 5),
			MaxIterations: getEnvInt("MAX_ITERATIONS", 500),
			MaxDuration:   getEnvDuration("MAX_LOAD_DURATION", 10*time.Minute),
		},
		Storage: StorageConfig{
			DBPath:      getEnv("DB_PATH", "reviews.db"),
			PostgresURL: os.Getenv("DATABASE_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("HARVEST_CRON"),
			Interval: getEnvDuration("HARVEST_INTERVAL", 0),
		},
		OutputDir:    getEnv("OUTPUT_DIR", "."),
		LogPath:      getEnv("LOG_PATH", "harvest.log"),
		MirrorImages: getEnvBool("MIRROR_IMAGES", false),
	}

	site, err := LoadSite(getEnv("SITE_CONFIG", "config/site.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Site = site

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSite reads the site YAML. A missing file yields DefaultSite; fields
// left empty in the file keep their defaults.
func LoadSite(path string) (*SiteConfig, error) {
	site := DefaultSite()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return site, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, site); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return site, nil
}

func (c *Config) Validate() error {
	h := c.Harvest
	switch {
	case h.StallLimit < 1:
		return fmt.Errorf("STALL_LIMIT must be at least 1, got %d", h.StallLimit)
	case h.MaxIterations < 1:
		return fmt.Errorf("MAX_ITERATIONS must be at least 1, got %d", h.MaxIterations)
	case h.MaxDuration <= 0:
		return fmt.Errorf("MAX_LOAD_DURATION must be positive")
	case h.NavTimeout <= 0 || h.WaitTimeout <= 0 || h.OpTimeout <= 0:
		return fmt.Errorf("timeouts must be positive")
	case h.Settle < 0 || h.ElementSettle < 0:
		return fmt.Errorf("settle intervals must not be negative")
	}

	if c.Browser.Driver != "playwright" && c.Browser.Driver != "rod" {
		return fmt.Errorf("unknown BROWSER_DRIVER %q", c.Browser.Driver)
	}
	if c.Site == nil || c.Site.ReviewSelector == "" {
		return fmt.Errorf("site config needs a review_selector")
	}
	if _, err := parser.New(c.Site.Patterns.ParserPatterns()); err != nil {
		return fmt.Errorf("site patterns: %w", err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
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

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
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
