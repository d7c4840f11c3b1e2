package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Output   OutputConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Schedule ScheduleConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	MaxRetries        int
	SettleMin         time.Duration
	SettleMax         time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	SelectorTimeout   time.Duration
	NavigationTimeout time.Duration
	// TargetInterval is the minimum spacing between two targets of a run.
	TargetInterval time.Duration
	PriceMin       float64
	PriceMax       float64
	ScreenshotDir  string
	AcceptTerms    []string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type OutputConfig struct {
	JSONPath    string
	TargetsFile string
	// WriteEmpty controls whether a run without records still replaces the JSON file.
	WriteEmpty bool
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Stream   string
}

type ScheduleConfig struct {
	Cron string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8084),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			MaxRetries:        getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			SettleMin:         getDurationOrDefault("SCRAPER_SETTLE_MIN", 4*time.Second),
			SettleMax:         getDurationOrDefault("SCRAPER_SETTLE_MAX", 6*time.Second),
			BackoffMin:        getDurationOrDefault("SCRAPER_BACKOFF_MIN", 5*time.Second),
			BackoffMax:        getDurationOrDefault("SCRAPER_BACKOFF_MAX", 10*time.Second),
			SelectorTimeout:   getDurationOrDefault("SCRAPER_SELECTOR_TIMEOUT", 5*time.Second),
			NavigationTimeout: getDurationOrDefault("SCRAPER_NAVIGATION_TIMEOUT", 60*time.Second),
			TargetInterval:    getDurationOrDefault("SCRAPER_TARGET_INTERVAL", 2*time.Second),
			PriceMin:          getFloatOrDefault("SCRAPER_PRICE_MIN", 10),
			PriceMax:          getFloatOrDefault("SCRAPER_PRICE_MAX", 100),
			ScreenshotDir:     getEnvOrDefault("SCRAPER_SCREENSHOT_DIR", "."),
			AcceptTerms:       getStringSliceOrDefault("SCRAPER_ACCEPT_TERMS", defaultAcceptTerms()),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", defaultUserAgent),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "es-ES,es;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Madrid"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "es-ES"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Output: OutputConfig{
			JSONPath:    getEnvOrDefault("OUTPUT_JSON_PATH", "data.json"),
			TargetsFile: getEnvOrDefault("TARGETS_FILE", "targets.yaml"),
			WriteEmpty:  getBoolOrDefault("OUTPUT_WRITE_EMPTY", false),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "prothunter"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:price_updates"),
		},
		Schedule: ScheduleConfig{
			Cron: getEnvOrDefault("SCHEDULE_CRON", "0 0 */6 * * *"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}

	if c.Scraper.SettleMin > c.Scraper.SettleMax {
		return fmt.Errorf("SCRAPER_SETTLE_MIN cannot be greater than SCRAPER_SETTLE_MAX")
	}

	if c.Scraper.BackoffMin > c.Scraper.BackoffMax {
		return fmt.Errorf("SCRAPER_BACKOFF_MIN cannot be greater than SCRAPER_BACKOFF_MAX")
	}

	if c.Scraper.PriceMin < 0 || c.Scraper.PriceMin >= c.Scraper.PriceMax {
		return fmt.Errorf("SCRAPER_PRICE_MIN must be non-negative and lower than SCRAPER_PRICE_MAX")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Output.JSONPath == "" {
		return fmt.Errorf("OUTPUT_JSON_PATH is required")
	}

	if c.Database.Enabled && c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required when the database is enabled")
	}

	if c.Redis.Enabled && !c.Database.Enabled {
		return fmt.Errorf("REDIS_ENABLED requires DB_ENABLED: events are relayed from the outbox table")
	}

	return nil
}

// DSN returns the postgres connection string for pgxpool.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
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

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func defaultAcceptTerms() []string {
	return []string{"aceptar", "acepto", "accept", "aceitar"}
}
