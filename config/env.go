// Package config loads runtime settings from the environment, an optional
// .env file and the user settings file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mixdeck/sources"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	defaultCORSOrigins = "http://localhost:3000,http://localhost:5173,http://localhost:5174"
	settingsFileName   = ".mixdeck-settings.json"
)

// YouTube download backends
const (
	BackendYTDLP  = "ytdlp"
	BackendNative = "native"
)

// Config holds every tunable the service reads at startup
type Config struct {
	Port              int
	Workers           int
	JobTimeout        time.Duration
	DownloadLocation  string
	YTDLPPath         string
	AudioFormat       string
	YouTubeBackend    string
	CORSOrigins       []string
	LogLevel          string
	LogFormat         string
	GinMode           string
	RetentionTTL      time.Duration
	RetentionSchedule string
	SpotifyOEmbedURL  string
	DeezerAPIURL      string
}

// Load reads envFile when present and builds a Config from the environment.
// A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Port:              getEnvInt("SERVER_PORT", 8080),
		Workers:           getEnvInt("MIXDECK_WORKERS", 3),
		JobTimeout:        getEnvDuration("MIXDECK_JOB_TIMEOUT", 0),
		DownloadLocation:  GetDownloadLocation(),
		YTDLPPath:         getEnv("YTDLP_PATH", sources.DefaultYTDLPBinary),
		AudioFormat:       getEnv("MIXDECK_AUDIO_FORMAT", sources.DefaultAudioFormat),
		YouTubeBackend:    strings.ToLower(getEnv("MIXDECK_YOUTUBE_BACKEND", BackendYTDLP)),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", defaultCORSOrigins)),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		GinMode:           getEnv("GIN_MODE", "release"),
		RetentionTTL:      getEnvDuration("MIXDECK_RETENTION_TTL", 0),
		RetentionSchedule: getEnv("MIXDECK_RETENTION_SCHEDULE", "@every 10m"),
		SpotifyOEmbedURL:  getEnv("SPOTIFY_OEMBED_URL", sources.DefaultSpotifyOEmbedURL),
		DeezerAPIURL:      getEnv("DEEZER_API_URL", sources.DefaultDeezerAPIURL),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.Port)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("MIXDECK_WORKERS must be positive, got %d", c.Workers)
	}
	if c.JobTimeout < 0 || c.RetentionTTL < 0 {
		return errors.New("durations must not be negative")
	}
	if c.YouTubeBackend != BackendYTDLP && c.YouTubeBackend != BackendNative {
		return fmt.Errorf("invalid MIXDECK_YOUTUBE_BACKEND %q", c.YouTubeBackend)
	}
	if c.DownloadLocation == "" {
		return errors.New("download location is empty")
	}
	return nil
}

// SetupLogging applies the configured level and format to the standard logrus logger
func (c *Config) SetupLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logrus.SetLevel(level)

	switch strings.ToLower(c.LogFormat) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// GetDownloadLocation returns where fetched files are written. The user
// settings file wins over MIXDECK_DOWNLOADS, which wins over ~/Music/Mixdeck.
func GetDownloadLocation() string {
	if userPath := getUserDownloadLocation(); userPath != "" {
		return userPath
	}

	if customPath := os.Getenv("MIXDECK_DOWNLOADS"); customPath != "" {
		return customPath
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "downloads")
	}
	return filepath.Join(homeDir, "Music", "Mixdeck")
}

// UserSettings represents the user's personal settings
type UserSettings struct {
	DownloadLocation string `json:"downloadLocation"`
}

func getSettingsFilePath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, settingsFileName)
}

// getUserDownloadLocation returns "" when the settings file is missing or unreadable
func getUserDownloadLocation() string {
	data, err := os.ReadFile(getSettingsFilePath())
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Warn("Could not read user settings")
		}
		return ""
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		logrus.WithError(err).Warn("Could not parse user settings")
		return ""
	}

	return strings.TrimSpace(settings.DownloadLocation)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logrus.WithField("key", key).Warnf("Invalid integer %q, using default %d", value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.WithField("key", key).Warnf("Invalid duration %q, using default %s", value, defaultValue)
		return defaultValue
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
