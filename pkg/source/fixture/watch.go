package fixture

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a fixture must stay unchanged before it is
// reloaded. Editors often write a file in several steps.
const DefaultSettle = 200 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	Settle time.Duration
	Logger *log.Logger
}

// Watch reloads the fixture at path whenever it changes and passes every
// successfully parsed version to onChange. Parse errors are logged and the
// previous version stays in effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file itself so that
// editors that save through rename are still observed.
func Watch(ctx context.Context, path string, opts WatchOptions, onChange func(*File)) error {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve fixture path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	opts.Logger.Info("watching fixture", "path", abs)

	settle := time.NewTimer(opts.Settle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			opts.Logger.Debug("fixture changed", "op", ev.Op.String())
			settle.Reset(opts.Settle)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			opts.Logger.Warn("fixture watcher error", "err", err)

		case <-settle.C:
			f, err := Load(abs)
			if err != nil {
				opts.Logger.Error("reload fixture", "err", err)
				continue
			}
			opts.Logger.Info("reloaded fixture", "features", len(f.Features), "tests", len(f.Tests))
			onChange(f)
		}
	}
}
