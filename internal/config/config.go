package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// User agent choices accepted by the scraper
const (
	UserAgentRandom  = "random"
	UserAgentChrome  = "chrome"
	UserAgentFirefox = "firefox"
	UserAgentSafari  = "safari"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Scraper  ScraperConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Log      LogConfig

	// envErrs holds values Load could not parse
	envErrs []error
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	// MaxConns bounds the connection pool.
	MaxConns int
	// BatchSize is the number of imported rows between progress reports.
	// Rows are committed one at a time.
	BatchSize int
	// StaleTimeout closes pooled connections idle for longer than this.
	StaleTimeout time.Duration
}

// ScraperConfig holds the fetch pipeline settings
type ScraperConfig struct {
	Retries        int
	BackoffFactor  time.Duration
	Timeout        time.Duration
	Proxy          string
	UserAgent      string
	FrequencyHours int
	DownloadPath   string
	SourcesFile    string
}

// KafkaConfig holds Kafka configuration. An empty broker list disables
// event publishing and the observation consumer.
type KafkaConfig struct {
	Brokers          []string
	QuoteTopic       string
	ObservationTopic string
	ObservationGroup string
}

// RedisConfig holds the latest-quote cache settings. An empty address
// disables the cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string
	Path        string
	Environment string
}

// Frequency returns the scrape interval
func (s *ScraperConfig) Frequency() time.Duration {
	return time.Duration(s.FrequencyHours) * time.Hour
}

// Load reads configuration from environment variables, after loading an
// optional .env file from the working directory. Malformed numbers keep
// their defaults and are reported by Validate.
func Load() *Config {
	_ = godotenv.Load()
	env := &envReader{}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			DBName:       getEnv("DB_NAME", "fundquotes"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxConns:     env.getEnvAsInt("DB_MAX_CONN", 20),
			BatchSize:    env.getEnvAsInt("DB_BATCH_SIZE", 250),
			StaleTimeout: env.getEnvAsSeconds("DB_STALE_TIMEOUT", 180),
		},
		Scraper: ScraperConfig{
			Retries:        env.getEnvAsInt("SCRAPER_RETRIES", 5),
			BackoffFactor:  env.getEnvAsSeconds("SCRAPER_BACKOFF_FACTOR", 1.0),
			Timeout:        env.getEnvAsSeconds("SCRAPER_TIMEOUT", 10.0),
			Proxy:          getEnv("SCRAPER_PROXY", ""),
			UserAgent:      strings.ToLower(getEnv("SCRAPER_USER_AGENT", UserAgentRandom)),
			FrequencyHours: env.getEnvAsInt("SCRAPER_FREQUENCY", 6),
			DownloadPath:   getEnv("DOWNLOAD_PATH", "downloads"),
			SourcesFile:    getEnv("SOURCES_FILE", "config/sources.yaml"),
		},
		Kafka: KafkaConfig{
			Brokers:          splitList(getEnv("KAFKA_BROKERS", "")),
			QuoteTopic:       getEnv("KAFKA_QUOTE_TOPIC", "fund-quotes"),
			ObservationTopic: getEnv("KAFKA_OBSERVATION_TOPIC", "fund-quote-observations"),
			ObservationGroup: getEnv("KAFKA_OBSERVATION_GROUP", "fund-quotes-ingest"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       env.getEnvAsInt("REDIS_DB", 0),
			TTL:      env.getEnvAsSeconds("REDIS_TTL", 600),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Path:        getEnv("LOG_PATH", ""),
			Environment: getEnv("ENVIRONMENT", "production"),
		},
	}
	cfg.envErrs = env.errs
	return cfg
}

// Validate checks configuration values. Any error is fatal at startup.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.envErrs...)

	if c.Database.MaxConns <= 5 {
		errs = append(errs, errors.New("database max connections must be greater than 5"))
	}
	if c.Database.BatchSize < 50 {
		errs = append(errs, errors.New("database batch size must be at least 50"))
	}
	if c.Database.StaleTimeout <= 0 {
		errs = append(errs, errors.New("database stale timeout must be positive"))
	}
	if err := c.Scraper.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Validate checks the scraper settings
func (s *ScraperConfig) Validate() error {
	var errs []error

	if s.Retries < 0 {
		errs = append(errs, errors.New("scraper retries must not be negative"))
	}
	if s.BackoffFactor <= 0 {
		errs = append(errs, errors.New("scraper backoff factor must be positive"))
	}
	if s.Timeout <= 0 {
		errs = append(errs, errors.New("scraper timeout must be positive"))
	}
	if s.FrequencyHours <= 0 {
		errs = append(errs, errors.New("scraper frequency must be positive"))
	}
	switch s.UserAgent {
	case UserAgentRandom, UserAgentChrome, UserAgentFirefox, UserAgentSafari:
	default:
		errs = append(errs, fmt.Errorf("unknown user agent %q", s.UserAgent))
	}
	if s.Proxy != "" {
		if _, err := ParseProxy(s.Proxy); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ParseProxy validates a proxy URL of the form scheme://[user:pass@]host:port
func ParseProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("invalid proxy scheme %q", u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("proxy url must include host and port: %s", u.Redacted())
	}
	return u, nil
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader collects parse failures of numeric variables
type envReader struct {
	errs []error
}

func (r *envReader) getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return intValue
}

// getEnvAsSeconds reads a (possibly fractional) number of seconds
func (r *envReader) getEnvAsSeconds(key string, defaultValue float64) time.Duration {
	seconds := defaultValue
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %q is not a number of seconds", key, value))
		} else {
			seconds = f
		}
	}
	return time.Duration(seconds * float64(time.Second))
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
