package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "reminderd/pkg/logx"
)

const (
	rewatchMin = 250 * time.Millisecond
	rewatchMax = 5 * time.Second
)

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the file after each burst of changes until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are still seen. A failed watcher is recreated with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	wait := rewatchMin
	for {
		err := m.watchOnce(ctx, dir, name)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			// The watcher ran and then broke; start over from a short delay.
			wait = rewatchMin
		}
		m.log.Warn("config watcher restarting", logx.String("dir", dir), logx.Err(err), logx.Duration("in", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait + rand.N(wait/2+1)):
		}
		wait = min(2*wait, rewatchMax)
	}
}

// watchOnce runs one fsnotify watcher. It returns an error if the watcher
// could not be set up and nil once its channels close.
func (m *Manager) watchOnce(ctx context.Context, dir, name string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			m.apply(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) == name && ev.Op&relevantOps != 0 {
				timer.Reset(m.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow, reloading", logx.Err(err))
				timer.Reset(m.debounce)
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
		}
	}
}
