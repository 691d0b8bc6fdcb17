package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "BOOKING"

// Config captures environment driven configuration values for the booking client.
type Config struct {
	APIBaseURL          string        `envconfig:"API_BASE_URL" default:"http://127.0.0.1:8000"`
	StorageSecret       string        `envconfig:"STORAGE_SECRET"`
	SQLitePath          string        `envconfig:"SQLITE_PATH" default:"classroom-booking.db"`
	HTTPTimeout         time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
	CacheTTL            time.Duration `envconfig:"CACHE_TTL" default:"60s"`
	OccupancyWindowDays int           `envconfig:"OCCUPANCY_WINDOW_DAYS" default:"0"`
	LogLevel            slog.Level    `envconfig:"LOG_LEVEL" default:"INFO"`
	OpenHour            int           `envconfig:"OPEN_HOUR" default:"8"`
	CloseHour           int           `envconfig:"CLOSE_HOUR" default:"21"`
}

// Load parses configuration values from the current process environment.
//
// Values from the given .env files (".env" when none are named) fill in
// variables the environment does not already set; missing files are ignored.
// Missing and malformed variables are reported together by name.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf(".env ファイルを読み込めません (%s): %w", file, err)
		}
	}

	var cfg Config
	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		var parseErr *envconfig.ParseError
		if !errors.As(err, &parseErr) {
			return Config{}, fmt.Errorf("環境変数を読み込めません: %w", err)
		}
		invalid = append(invalid, parseErr.KeyName)
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if u, err := url.Parse(cfg.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		invalid = append(invalid, envPrefix+"_API_BASE_URL")
	}

	cfg.StorageSecret = strings.TrimSpace(cfg.StorageSecret)
	if cfg.StorageSecret == "" {
		missing = append(missing, envPrefix+"_STORAGE_SECRET")
	}

	if strings.TrimSpace(cfg.SQLitePath) == "" {
		invalid = append(invalid, envPrefix+"_SQLITE_PATH")
	}
	if cfg.HTTPTimeout <= 0 {
		invalid = append(invalid, envPrefix+"_HTTP_TIMEOUT")
	}
	if cfg.CacheTTL < 0 {
		invalid = append(invalid, envPrefix+"_CACHE_TTL")
	}
	if cfg.OccupancyWindowDays < 0 {
		invalid = append(invalid, envPrefix+"_OCCUPANCY_WINDOW_DAYS")
	}
	if cfg.OpenHour < 0 || cfg.CloseHour > 24 || cfg.OpenHour >= cfg.CloseHour {
		invalid = append(invalid, envPrefix+"_OPEN_HOUR", envPrefix+"_CLOSE_HOUR")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
