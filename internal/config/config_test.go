package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novvoo/go-pageimages/pkg/pdf"
)

// inTempDir runs the test from an empty directory so a developer's .env
// does not leak into it.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{EnvPage, EnvOutputDir, EnvRaw, EnvMode, EnvPassword, EnvLogLevel, EnvLogFormat} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_File(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "pageimages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
extract:
  page: 2
  output_dir: out
  raw: true
log:
  level: debug
  format: json
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Extract.Page)
	assert.Equal(t, "out", cfg.Extract.OutputDir)
	assert.True(t, cfg.Extract.Raw)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "pageimages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("extract:\n  page: 2\n"), 0644))

	t.Setenv(EnvPage, "4")
	t.Setenv(EnvRaw, "true")
	t.Setenv(EnvPassword, "secret")
	t.Setenv(EnvLogFormat, "JSON")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Extract.Page)
	assert.True(t, cfg.Extract.Raw)
	assert.Equal(t, "secret", cfg.Extract.Password)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PAGEIMAGES_OUTPUT_DIR=from-dotenv\n"), 0644))
	// godotenv does not override variables that are set, even when empty.
	os.Unsetenv(EnvOutputDir)
	t.Cleanup(func() { os.Unsetenv(EnvOutputDir) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Extract.OutputDir)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "malformed yaml", file: "extract: [\n"},
		{name: "negative page", file: "extract:\n  page: -1\n"},
		{name: "bad log format", file: "log:\n  format: xml\n"},
		{name: "bad page env", env: map[string]string{EnvPage: "first"}},
		{name: "bad raw env", env: map[string]string{EnvRaw: "maybe"}},
		{name: "bad level env", env: map[string]string{EnvLogLevel: "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := inTempDir(t)
			path := ""
			if tt.file != "" {
				path = filepath.Join(dir, "pageimages.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0644))
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	dir := inTempDir(t)
	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	lc := cfg.LoggerConfig()
	assert.Equal(t, "info", lc.Level)
	assert.Equal(t, "console", lc.Format)
	assert.Equal(t, "pageimages", lc.ServiceName)
}

func TestExtractConfig_ImageMode(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ExtractConfig
		want    pdf.ImageMode
		wantErr bool
	}{
		{"default", ExtractConfig{}, pdf.ImageModeNative, false},
		{"native", ExtractConfig{Mode: "native"}, pdf.ImageModeNative, false},
		{"raw", ExtractConfig{Mode: "raw"}, pdf.ImageModeRaw, false},
		{"raw shorthand wins", ExtractConfig{Mode: "native", Raw: true}, pdf.ImageModeRaw, false},
		{"unknown", ExtractConfig{Mode: "png"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := tt.cfg.ImageMode()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, mode)
		})
	}
}

func TestLoad_ModeFromEnv(t *testing.T) {
	inTempDir(t)

	t.Setenv(EnvMode, " RAW ")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "raw", cfg.Extract.Mode)

	t.Setenv(EnvMode, "png")
	_, err = Load("")
	assert.ErrorContains(t, err, "unknown image mode")
}
