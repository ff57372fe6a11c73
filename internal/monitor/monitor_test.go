package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

func TestSeriesAdd(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "monitor")
	m, err := New(dir, true)
	require.NoError(t, err)

	s := m.Series("train_loss")
	assert.Same(t, s, m.Series("train_loss"))
	assert.Equal(t, filepath.Join(dir, "train_loss.series.txt"), s.Path())

	require.NoError(t, s.Add(0, 1.5))
	require.NoError(t, s.Add(1, 0.25))
	assert.Equal(t, "0 1.5\n1 0.25\n", readFile(t, s.Path()))
}

func TestUpdateAndFlush(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, true)
	require.NoError(t, err)

	m.Update("train/l_mel", 1, 2)
	m.Update("train/l_mel", 4, 1)
	m.Update("train/l_gat", 0.5, 3)

	avg, ok := m.Average("train/l_mel")
	require.True(t, ok)
	assert.InDelta(t, 2.0, avg, 1e-12)

	require.NoError(t, m.Flush(3))
	assert.Equal(t, "3 2\n", readFile(t, filepath.Join(dir, "train-l_mel.series.txt")))
	assert.Equal(t, "3 0.5\n", readFile(t, filepath.Join(dir, "train-l_gat.series.txt")))

	_, ok = m.Average("train/l_mel")
	assert.False(t, ok, "flush resets the averages")

	m.Update("train/l_mel", 7, 1)
	require.NoError(t, m.Flush(4))
	assert.Equal(t, "3 2\n4 7\n", readFile(t, filepath.Join(dir, "train-l_mel.series.txt")))
}

func TestInfo(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, true)
	require.NoError(t, err)

	require.NoError(t, m.Info("valid/loss=0.12345\n"))
	require.NoError(t, m.Info("run id abc"))
	assert.Equal(t, "valid/loss=0.12345\nrun id abc\n", readFile(t, filepath.Join(dir, logFile)))
}

func TestDisabledMonitorWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never")
	m, err := New(dir, false)
	require.NoError(t, err)
	assert.False(t, m.Enabled())

	m.Update("x", 1, 1)
	require.NoError(t, m.Flush(0))
	require.NoError(t, m.Info("hello"))
	require.NoError(t, m.Series("y").Add(0, 1))

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
