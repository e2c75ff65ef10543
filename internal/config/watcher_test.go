package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherStartStop(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, DefaultConfig().Save(path))

	w, err := NewWatcher(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Stop())
}

func TestWatcherReloadFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, DefaultConfig().Save(path))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	w.debounceDur = 20 * time.Millisecond

	reloaded := make(chan *Config, 1)
	w.OnReload = func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	changed := DefaultConfig()
	changed.LLM.Model = "gemini-3-pro-preview"
	require.NoError(t, changed.Save(path))

	select {
	case got := <-reloaded:
		assert.Equal(t, "gemini-3-pro-preview", got.LLM.Model)
	case <-time.After(3 * time.Second):
		t.Fatal("reload did not fire after a config change")
	}
}

func TestWatcherStopReturnsAfterFailedStart(t *testing.T) {
	// The watched directory does not exist, so Start fails before the
	// loop launches; Stop must still return instead of waiting on it.
	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	require.NoError(t, err)
	require.Error(t, w.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- w.Stop() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung after a failed Start")
	}
}
