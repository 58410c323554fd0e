package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig_IsValid(t *testing.T) {
	config := NewDefaultConfig()

	require.NoError(t, config.Validate())
	assert.Equal(t, 1000, config.Cache.WindowSize)
	assert.Equal(t, 200, config.Cache.WindowPadding)
	assert.Equal(t, 5000, config.Cache.BulkFetchSize)
	assert.Equal(t, float64(500), config.Graph.JumpVelocity)
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
[api]
base_url = "http://backend:9000/api"

[cache]
window_size = 400
window_padding = 50
`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`
[cache]
window_padding = 100
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000/api", config.API.BaseURL)
	assert.Equal(t, 400, config.Cache.WindowSize)
	assert.Equal(t, 100, config.Cache.WindowPadding)
	assert.Equal(t, 5000, config.Cache.BulkFetchSize, "untouched values keep defaults")
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	t.Setenv("REWIND_CACHE_BULK_FETCH_SIZE", "250")
	t.Setenv("REWIND_BADGER_ENABLED", "false")
	t.Setenv("REWIND_LOG_OUTPUT", "stdout, file")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 250, config.Cache.BulkFetchSize)
	assert.False(t, config.Storage.Badger.Enabled)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
}

func TestLoadFromFiles_RejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"padding too large": "[cache]\nwindow_size = 100\nwindow_padding = 60\n",
		"bad poll schedule": "[poll]\nenabled = true\nschedule = \"whenever\"\n",
		"bad timeout":       "[api]\ntimeout = \"soon\"\n",
		"zero window":       "[cache]\nwindow_size = 0\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))

			_, err := LoadFromFiles(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 9999, "0.0.0.0", "http://other/api")

	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, "http://other/api", config.API.BaseURL)

	ApplyFlagOverrides(config, 0, "", "")
	assert.Equal(t, 9999, config.Server.Port, "zero values leave config untouched")
}
