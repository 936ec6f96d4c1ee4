package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissingCredentials = errors.New("missing provider credentials")

type Config struct {
	ListenAddr   string
	APISecretKey string
	DatabaseURL  string

	OpenAIKey         string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAITemperature float32
	OpenAIMaxTokens   int
	OpenAITimeout     time.Duration

	GoogleAPIKey string
	GoogleCSEID  string

	SearchPageCount        int
	SearchPageDelay        time.Duration
	SearchDateRestrictDays int

	HTTPTimeout    time.Duration
	ScrapeTimeout  time.Duration
	UpdatesPerDate int

	RedisURL         string
	RevalidateURL    string
	RevalidateSecret string

	UpdateSchedule string

	LogPath       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogLevel      string
}

// Helper function to get environment variable with default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnvWithDefault(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float32) float32 {
	f, err := strconv.ParseFloat(getEnvWithDefault(key, ""), 32)
	if err != nil {
		return defaultValue
	}
	return float32(f)
}

// LoadDotenv looks for a .env in the working directory and up to two parents.
// A missing file is not an error: the process environment may already carry the keys.
func LoadDotenv() error {
	var errs []error
	for _, path := range []string{".env", "../.env", "../../.env"} {
		err := godotenv.Load(path)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FromEnv reads the configuration from the process environment.
func FromEnv() *Config {
	return &Config{
		ListenAddr:   getEnvWithDefault("LISTEN_ADDR", ":8080"),
		APISecretKey: os.Getenv("API_SECRET_KEY"),
		DatabaseURL:  getEnvWithDefault("DATABASE_URL", os.Getenv("DATABASE_POOL_URL")),

		OpenAIKey:         os.Getenv("OPENAI_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:       getEnvWithDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAITemperature: getEnvFloat("OPENAI_TEMPERATURE", 0.2),
		OpenAIMaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 4000),
		OpenAITimeout:     time.Duration(getEnvInt("OPENAI_TIMEOUT_SECONDS", 90)) * time.Second,

		GoogleAPIKey: os.Getenv("GOOGLE_API_KEY"),
		GoogleCSEID:  os.Getenv("GOOGLE_CSE_ID"),

		SearchPageCount:        getEnvInt("SEARCH_PAGE_COUNT", 3),
		SearchPageDelay:        time.Duration(getEnvInt("SEARCH_PAGE_DELAY_MS", 500)) * time.Millisecond,
		SearchDateRestrictDays: getEnvInt("SEARCH_DATE_RESTRICT_DAYS", 30),

		HTTPTimeout:    time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
		ScrapeTimeout:  time.Duration(getEnvInt("SCRAPE_TIMEOUT_SECONDS", 12)) * time.Second,
		UpdatesPerDate: getEnvInt("UPDATES_PER_DATE", 3),

		RedisURL:         os.Getenv("REDIS_URL"),
		RevalidateURL:    os.Getenv("REVALIDATE_URL"),
		RevalidateSecret: os.Getenv("REVALIDATE_SECRET"),

		UpdateSchedule: getEnvWithDefault("UPDATE_SCHEDULE", "@every 6h"),

		LogPath:       getEnvWithDefault("LOG_PATH", "logs/deadline.log"),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 10),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		LogLevel:      getEnvWithDefault("LOG_LEVEL", "INFO"),
	}
}

// Load reads .env files (best effort) and then the environment.
func Load() *Config {
	_ = LoadDotenv()
	return FromEnv()
}

// Validate reports every required key that is missing.
func (c *Config) Validate() error {
	var missing []string
	required := map[string]string{
		"API_SECRET_KEY": c.APISecretKey,
		"DATABASE_URL":   c.DatabaseURL,
		"OPENAI_KEY":     c.OpenAIKey,
		"GOOGLE_API_KEY": c.GoogleAPIKey,
		"GOOGLE_CSE_ID":  c.GoogleCSEID,
	}
	for _, key := range []string{"API_SECRET_KEY", "DATABASE_URL", "OPENAI_KEY", "GOOGLE_API_KEY", "GOOGLE_CSE_ID"} {
		if strings.TrimSpace(required[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	if c.SearchPageCount < 1 {
		return fmt.Errorf("SEARCH_PAGE_COUNT must be positive, got %d", c.SearchPageCount)
	}
	if c.UpdatesPerDate < 1 {
		return fmt.Errorf("UPDATES_PER_DATE must be positive, got %d", c.UpdatesPerDate)
	}
	return nil
}
