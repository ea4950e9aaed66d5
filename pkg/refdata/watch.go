package refdata

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the catalog from dir whenever one of its JSON files changes
// and passes every successfully loaded catalog to apply. Changes are
// debounced; a file that fails to load keeps the previous catalog. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, dir string, debounce time.Duration, log zerolog.Logger, apply func(*Catalog)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	log.Info().Str("dir", dir).Msg("watching reference data")

	var pending time.Time
	ticker := time.NewTicker(debounce / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".json") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				pending = time.Now()
			}
		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < debounce {
				continue
			}
			pending = time.Time{}
			cat, err := LoadDir(dir)
			if err != nil {
				log.Warn().Err(err).Str("dir", dir).Msg("reference reload failed, keeping previous data")
				continue
			}
			log.Info().Int("cities", len(cat.Cities())).Msg("reference data reloaded")
			apply(cat)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("reference watch error")
		}
	}
}
