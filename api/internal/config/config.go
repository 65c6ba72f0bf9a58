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

type Config struct {
	Port string

	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	DefaultEngine string

	TelegramBotToken string
	WebhookURL       string
	DatabaseURL      string

	MediaCeilingBytes int
	MediaMinWidth     int
	MediaMinHeight    int

	LogLevel        string
	RequestTimeout  time.Duration
	AIRetryAttempts int
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) (int, error) {
	v := getEnv(k, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getDuration(k string, def time.Duration) (time.Duration, error) {
	v := getEnv(k, "")
	if v == "" {
		return def, nil
	}
	// plain numbers are seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		Port: getEnv("PORT", "8000"),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		DefaultEngine: strings.ToLower(getEnv("DEFAULT_ENGINE", "")),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	var errs []error
	var err error
	if c.MediaCeilingBytes, err = getInt("MEDIA_CEILING_BYTES", 1<<20); err != nil {
		errs = append(errs, err)
	}
	if c.MediaMinWidth, err = getInt("MEDIA_MIN_WIDTH", 400); err != nil {
		errs = append(errs, err)
	}
	if c.MediaMinHeight, err = getInt("MEDIA_MIN_HEIGHT", 300); err != nil {
		errs = append(errs, err)
	}
	if c.AIRetryAttempts, err = getInt("AI_RETRY_ATTEMPTS", 3); err != nil {
		errs = append(errs, err)
	}
	if c.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 180*time.Second); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	// unset: whichever engine has a key, gemini first
	if c.DefaultEngine == "" {
		switch {
		case c.GeminiAPIKey != "":
			c.DefaultEngine = "gemini"
		case c.OpenAIAPIKey != "":
			c.DefaultEngine = "openai"
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks ranges and that at least one engine has credentials.
func (c *Config) Validate() error {
	var errs []error
	if c.GeminiAPIKey == "" && c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("one of GEMINI_API_KEY or OPENAI_API_KEY is required"))
	}
	switch c.DefaultEngine {
	case "":
		// resolved by the engine registry
	case "gemini":
		if c.GeminiAPIKey == "" && c.OpenAIAPIKey != "" {
			errs = append(errs, errors.New("DEFAULT_ENGINE=gemini but GEMINI_API_KEY is empty"))
		}
	case "openai", "gpt":
		if c.OpenAIAPIKey == "" && c.GeminiAPIKey != "" {
			errs = append(errs, errors.New("DEFAULT_ENGINE=openai but OPENAI_API_KEY is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("DEFAULT_ENGINE %q is not gemini or openai", c.DefaultEngine))
	}
	if c.MediaCeilingBytes < 1024 {
		errs = append(errs, fmt.Errorf("MEDIA_CEILING_BYTES must be at least 1024, got %d", c.MediaCeilingBytes))
	}
	if c.MediaMinWidth < 1 || c.MediaMinHeight < 1 {
		errs = append(errs, errors.New("MEDIA_MIN_WIDTH and MEDIA_MIN_HEIGHT must be positive"))
	}
	if c.AIRetryAttempts < 0 || c.AIRetryAttempts > 10 {
		errs = append(errs, fmt.Errorf("AI_RETRY_ATTEMPTS must be within 0..10, got %d", c.AIRetryAttempts))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// RequireTelegram is checked by the bot binary only.
func (c *Config) RequireTelegram() error {
	if c.TelegramBotToken == "" {
		return errors.New("config: TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}
