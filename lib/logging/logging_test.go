package logging

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLevel(t *testing.T) {
	for name, want := range map[string]zap.AtomicLevel{
		"debug": zap.NewAtomicLevelAt(zap.DebugLevel),
		"warn":  zap.NewAtomicLevelAt(zap.WarnLevel),
		"error": zap.NewAtomicLevelAt(zap.ErrorLevel),
		"":      zap.NewAtomicLevelAt(zap.InfoLevel),
		"bogus": zap.NewAtomicLevelAt(zap.InfoLevel),
	} {
		c := Conf{LogLevel: name}
		assert.Equal(t, want.Level(), c.Level(), name)
	}
}

func TestFileLog(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(&Conf{LogLevel: "debug", EnableFileLog: true, LogDir: dir, LogRotationMaxDays: 1, DisableStdoutLog: true})
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, logger.Sync())

	matches, err := filepath.Glob(filepath.Join(dir, "fulaut-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	b, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"timestamp"`)
	assert.Contains(t, string(b), "hello")
}

func TestMissingLogDir(t *testing.T) {
	_, err := New(&Conf{EnableFileLog: true, LogDir: filepath.Join(t.TempDir(), "nope")})
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
