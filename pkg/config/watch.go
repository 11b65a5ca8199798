package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch reloads the descriptor file whenever it changes on disk and hands
// the result to onChange. Invalid or unreadable updates are reported through
// onChange too, so the caller decides whether to keep the previous
// configuration: the result is always non-nil, and an unreadable file yields
// a nil descriptor with an invalid result describing the failure. Watch
// blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Descriptor, *Result)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors typically replace the file, which drops
	// a watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || abs != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			d, res, err := Load(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("Descriptor reload failed")
				onChange(nil, &Result{Errors: []FieldError{{
					Field:   "document",
					Code:    CodeType,
					Message: err.Error(),
				}}})
				continue
			}
			log.Info().Str("path", path).Bool("valid", res.Valid).Msg("Descriptor reloaded")
			onChange(d, res)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
