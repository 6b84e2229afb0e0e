// Package config loads runtime configuration from the environment, with
// optional .env support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Login    LoginConfig
	Output   OutputConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

type ScraperConfig struct {
	// PageDelayMin/Max bound the randomized pause before every fetch.
	PageDelayMin time.Duration
	PageDelayMax time.Duration
	// ProductDelay is slept between products.
	ProductDelay  time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type LoginConfig struct {
	Email       string
	Password    string
	SessionFile string
}

type OutputConfig struct {
	Dir     string
	Formats string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	Enabled bool
	Addr    string
	DB      int
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present and never required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Scraper: ScraperConfig{
			PageDelayMin:  getDurationOrDefault("SCRAPER_PAGE_DELAY_MIN", 2*time.Second),
			PageDelayMax:  getDurationOrDefault("SCRAPER_PAGE_DELAY_MAX", 3*time.Second),
			ProductDelay:  getDurationOrDefault("SCRAPER_PRODUCT_DELAY", 3*time.Second),
			MaxRetries:    getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			RetryDelay:    getDurationOrDefault("SCRAPER_RETRY_DELAY", 5*time.Second),
			MaxRetryDelay: getDurationOrDefault("SCRAPER_MAX_RETRY_DELAY", 30*time.Second),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Login: LoginConfig{
			Email:       getEnvOrDefault("AMAZON_EMAIL", ""),
			Password:    getEnvOrDefault("AMAZON_PASSWORD", ""),
			SessionFile: getEnvOrDefault("SESSION_FILE", "session.json"),
		},
		Output: OutputConfig{
			Dir:     getEnvOrDefault("OUTPUT_DIR", "output"),
			Formats: getEnvOrDefault("OUTPUT_FORMATS", "csv,json"),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "amazon_reviews"),
		},
		Redis: RedisConfig{
			Enabled: getBoolOrDefault("REDIS_ENABLED", false),
			Addr:    getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			DB:      getIntOrDefault("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.PageDelayMin > c.Scraper.PageDelayMax {
		return fmt.Errorf("SCRAPER_PAGE_DELAY_MIN cannot be greater than SCRAPER_PAGE_DELAY_MAX")
	}
	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}
	if (c.Login.Email == "") != (c.Login.Password == "") {
		return fmt.Errorf("AMAZON_EMAIL and AMAZON_PASSWORD must be set together")
	}
	return nil
}

// HasCredentials reports whether automated login can be attempted.
func (c *Config) HasCredentials() bool {
	return c.Login.Email != "" && c.Login.Password != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
