package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at an empty directory so no real settings file is read
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"SERVER_PORT", "MIXDECK_WORKERS", "MIXDECK_JOB_TIMEOUT", "MIXDECK_DOWNLOADS",
		"YTDLP_PATH", "MIXDECK_AUDIO_FORMAT", "MIXDECK_YOUTUBE_BACKEND", "CORS_ORIGINS", "LOG_LEVEL", "LOG_FORMAT",
		"MIXDECK_RETENTION_TTL", "MIXDECK_RETENTION_SCHEDULE",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 3, cfg.Workers)
	assert.Zero(t, cfg.JobTimeout)
	assert.Equal(t, filepath.Join(home, "Music", "Mixdeck"), cfg.DownloadLocation)
	assert.Equal(t, "yt-dlp", cfg.YTDLPPath)
	assert.Equal(t, "mp3", cfg.AudioFormat)
	assert.Equal(t, BackendYTDLP, cfg.YouTubeBackend)
	assert.Len(t, cfg.CORSOrigins, 3)
	assert.Zero(t, cfg.RetentionTTL)
	assert.Equal(t, "@every 10m", cfg.RetentionSchedule)
}

func TestLoadFromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MIXDECK_WORKERS", "5")
	t.Setenv("MIXDECK_JOB_TIMEOUT", "90s")
	t.Setenv("MIXDECK_DOWNLOADS", "/srv/music")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MIXDECK_RETENTION_TTL", "1h")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, 90*time.Second, cfg.JobTimeout)
	assert.Equal(t, "/srv/music", cfg.DownloadLocation)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, time.Hour, cfg.RetentionTTL)
}

func TestLoadEnvFile(t *testing.T) {
	isolate(t)
	os.Unsetenv("MIXDECK_WORKERS")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MIXDECK_WORKERS=7\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("MIXDECK_WORKERS") })

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoadInvalidValues(t *testing.T) {
	isolate(t)
	t.Setenv("MIXDECK_WORKERS", "lots")
	t.Setenv("MIXDECK_JOB_TIMEOUT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Zero(t, cfg.JobTimeout)

	t.Setenv("MIXDECK_WORKERS", "0")
	_, err = Load("")
	assert.Error(t, err)

	t.Setenv("MIXDECK_WORKERS", "")
	t.Setenv("MIXDECK_YOUTUBE_BACKEND", "vlc")
	_, err = Load("")
	assert.ErrorContains(t, err, "MIXDECK_YOUTUBE_BACKEND")
}

func TestSettingsFileOverridesDownloadLocation(t *testing.T) {
	home := isolate(t)
	t.Setenv("MIXDECK_DOWNLOADS", "/from/env")

	assert.Equal(t, "/from/env", GetDownloadLocation())

	settings := filepath.Join(home, ".mixdeck-settings.json")
	require.NoError(t, os.WriteFile(settings, []byte(`{"downloadLocation": "/from/settings"}`), 0644))
	assert.Equal(t, "/from/settings", GetDownloadLocation())

	require.NoError(t, os.WriteFile(settings, []byte(`not json`), 0644))
	assert.Equal(t, "/from/env", GetDownloadLocation())
}

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	})

	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	require.NoError(t, cfg.SetupLogging())
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, (&Config{LogLevel: "loud", LogFormat: "text"}).SetupLogging())
	assert.Error(t, (&Config{LogLevel: "info", LogFormat: "xml"}).SetupLogging())
}
