package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into a directory with no .env file for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "library.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.True(t, cfg.BooksAvailableByDefault)
	assert.Equal(t, 5, cfg.LoginRateLimit)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Error(t, cfg.RequireSecret())
}

func TestLoadFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LIBRARY_DB_PATH", "/var/lib/library/lib.db")
	t.Setenv("LIBRARY_TOKEN_TTL", "90m")
	t.Setenv("LIBRARY_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("LIBRARY_BOOKS_AVAILABLE_BY_DEFAULT", "false")
	t.Setenv("LIBRARY_JWT_SECRET", "0123456789abcdef0123")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/library/lib.db", cfg.DBPath)
	assert.Equal(t, 90*time.Minute, cfg.TokenTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.False(t, cfg.BooksAvailableByDefault)
	assert.NoError(t, cfg.RequireSecret())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LIBRARY_HTTP_ADDR=:9999\n"), 0o600))
	chdir(t, dir)
	t.Cleanup(func() { os.Unsetenv("LIBRARY_HTTP_ADDR") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"LIBRARY_LOG_LEVEL":        "loud",
		"LIBRARY_LOG_FORMAT":       "xml",
		"LIBRARY_TOKEN_TTL":        "soon",
		"LIBRARY_LOGIN_RATE_LIMIT": "0",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	Config{LogLevel: "warn", LogFormat: "json"}.Logger(&buf).Warn("shelf full", "shelf", 3)
	assert.Contains(t, buf.String(), `"msg":"shelf full"`)

	buf.Reset()
	Config{LogLevel: "warn", LogFormat: "text"}.Logger(&buf).Info("hidden")
	assert.Empty(t, buf.String())
}
