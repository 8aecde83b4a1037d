package presenter

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ivlev/lecture3d/internal/lecture"
)

// reloadDebounce absorbs the burst of events editors emit for one save.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the manifest at path whenever it changes, until ctx ends.
// A manifest that fails to parse is logged and the current one kept.
func (p *Presenter) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	// the directory, so that editors replacing the file are seen too
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					pending = time.After(reloadDebounce)
				}
			case <-pending:
				pending = nil
				p.reloadFile(ctx, abs)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.log.Warn().Err(err).Msg("manifest watcher error")
			}
		}
	}()
	return nil
}

func (p *Presenter) reloadFile(ctx context.Context, path string) {
	lec, err := lecture.Load(path)
	if err != nil {
		p.log.Error().Err(err).Str("path", path).Msg("manifest reload failed, keeping the current lecture")
		return
	}
	if err := p.Reload(ctx, lec); err != nil {
		p.log.Error().Err(err).Str("path", path).Msg("manifest reload rejected")
		return
	}
	p.log.Info().Str("path", path).Str("id", lec.ID).Msg("manifest reloaded")
}
