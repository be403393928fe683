package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

type recordingUpdater struct {
	mu   sync.Mutex
	defs []*domain.Definition
	err  error
}

func (u *recordingUpdater) UpdatePipeline(def *domain.Definition) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.defs = append(u.defs, def)
	return nil
}

func (u *recordingUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.defs)
}

const reloadablePipeline = `
pipeline:
  stages:
    - name: intake
      services: [ocr_service]
      timeout: 5s
      retries: 1
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reloadablePipeline), 0o644))

	t.Run("installs converted definition", func(t *testing.T) {
		updater := &recordingUpdater{}
		w, err := NewWatcher(path, updater, 0, discardLogger())
		require.NoError(t, err)
		defer w.fsw.Close()

		require.NoError(t, w.Reload())

		require.Equal(t, 1, updater.count())
		assert.Equal(t, "intake", updater.defs[0].Stages[0].Name)
		assert.Equal(t, 5*time.Second, updater.defs[0].Stages[0].Timeout)
	})

	t.Run("rejected definition is reported", func(t *testing.T) {
		updater := &recordingUpdater{err: errors.New("unknown service")}
		w, err := NewWatcher(path, updater, 0, discardLogger())
		require.NoError(t, err)
		defer w.fsw.Close()

		assert.ErrorContains(t, w.Reload(), "unknown service")
	})
}

func TestWatcher_RunReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reloadablePipeline), 0o644))

	updater := &recordingUpdater{}
	w, err := NewWatcher(path, updater, 20*time.Millisecond, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o644))

	// an invalid write keeps the current definition
	require.NoError(t, os.WriteFile(path, []byte("pipeline: [broken"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, updater.count())

	require.NoError(t, os.WriteFile(path, []byte(reloadablePipeline), 0o644))
	require.Eventually(t, func() bool { return updater.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
}
