package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCrashFile(t *testing.T) {
	crashDirMu.RLock()
	previous := crashDir
	crashDirMu.RUnlock()
	t.Cleanup(func() {
		crashDirMu.Lock()
		crashDir = previous
		crashDirMu.Unlock()
	})

	dir := filepath.Join(t.TempDir(), "logs")
	InstallCrashHandler(dir)

	path := WriteCrashFile("boom", "goroutine 1 [running]:")
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	report := string(data)
	assert.Contains(t, report, "=== REWIND CRASH REPORT ===")
	assert.Contains(t, report, "boom")
	assert.Contains(t, report, "goroutine 1 [running]:")
	assert.Contains(t, report, "=== END CRASH REPORT ===")
}
