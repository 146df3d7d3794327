// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of events from a single editor save.
const reloadDebounce = 200 * time.Millisecond

// BuildFunc builds an index from corpus text.
type BuildFunc func(ctx context.Context, corpus string) (*Index, error)

// Watcher serves searches from the latest index built from a corpus file and
// rebuilds it when the file changes.
//
// Description:
//
//	The parent directory is watched rather than the file itself so that
//	atomic-rename saves are seen. A failed rebuild keeps the previous index.
//	Searches already running keep the snapshot they started with.
//
// Thread Safety: All methods are safe for concurrent use.
type Watcher struct {
	path    string
	build   BuildFunc
	logger  *slog.Logger
	current atomic.Pointer[Index]

	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closeMu sync.Once
}

// NewWatcher builds the initial index from path and starts watching it.
// A missing file yields an empty index.
func NewWatcher(ctx context.Context, path string, build BuildFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge watcher: %w", err)
	}
	w := &Watcher{
		path:   abs,
		build:  build,
		logger: logger.With(slog.String("component", "knowledge_watcher")),
	}
	if err := w.reload(ctx); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("knowledge watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("knowledge watcher: watching %s: %w", filepath.Dir(abs), err)
	}
	w.fsw = fsw

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(loopCtx)
	return w, nil
}

// Current returns the active index snapshot.
func (w *Watcher) Current() *Index { return w.current.Load() }

// Search implements Searcher on the current snapshot.
func (w *Watcher) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	return w.Current().Search(ctx, query, topK)
}

// Get implements Searcher on the current snapshot.
func (w *Watcher) Get(canonicalName string) (Match, bool) {
	return w.Current().Get(canonicalName)
}

// Labels implements Searcher on the current snapshot.
func (w *Watcher) Labels() []string { return w.Current().Labels() }

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeMu.Do(func() {
		w.cancel()
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("knowledge watcher: fsnotify error", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			if err := w.reload(ctx); err != nil {
				reloadTotal.WithLabelValues("error").Inc()
				w.logger.Warn("knowledge watcher: reload failed, keeping previous index",
					slog.String("error", err.Error()))
				continue
			}
			reloadTotal.WithLabelValues("ok").Inc()
		}
	}
}

func (w *Watcher) reload(ctx context.Context) error {
	data, err := os.ReadFile(w.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("knowledge watcher: reading %s: %w", w.path, err)
	}
	idx, err := w.build(ctx, string(data))
	if err != nil {
		return err
	}
	w.current.Store(idx)
	w.logger.Info("knowledge watcher: index loaded",
		slog.String("path", w.path),
		slog.Int("chunks", idx.Len()))
	return nil
}
