package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

const defaultReloadDebounce = 250 * time.Millisecond

// PipelineUpdater installs a new pipeline definition.
type PipelineUpdater interface {
	UpdatePipeline(def *domain.Definition) error
}

// Watcher reloads the pipeline section of a config file when it changes.
// An invalid file is logged and the running definition is kept.
type Watcher struct {
	path     string
	updater  PipelineUpdater
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher watches the directory holding path so that editors replacing
// the file by rename are noticed as well.
func NewWatcher(path string, updater PipelineUpdater, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}

	return &Watcher{
		path:     abs,
		updater:  updater,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
	}, nil
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	w.logger.Info("Watching pipeline configuration",
		slog.String("path", w.path),
	)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.logger.Error("Failed to reload pipeline configuration, keeping current definition",
					slog.String("path", w.path),
					slog.Any("error", err),
				)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error",
				slog.Any("error", err),
			)
		}
	}
}

// Reload reads the file and installs its pipeline definition.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}

	def, err := cfg.Pipeline.ToDefinition()
	if err != nil {
		return fmt.Errorf("failed to convert pipeline definition: %w", err)
	}

	if err := w.updater.UpdatePipeline(def); err != nil {
		return err
	}

	w.logger.Info("Pipeline configuration reloaded",
		slog.String("path", w.path),
		slog.Int("stages", len(def.Stages)),
	)
	return nil
}
