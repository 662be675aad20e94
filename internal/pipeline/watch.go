package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"batch-transcriber/internal/discovery"
)

// DefaultDebounce is how long the audio directory must stay quiet before a
// watch-triggered run starts. Copies of large recordings emit many writes.
const DefaultDebounce = 5 * time.Second

// Watch runs once, then again whenever supported recordings appear or change
// in the audio directory, until ctx is done. Runs execute on this goroutine
// so they never overlap. A failed run is logged and the next change retries;
// its checkpoints are picked up by the leftover scan.
func (r *Runner) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := r.mkdirAll(r.settings.AudioDir, 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	if err := watcher.Add(r.settings.AudioDir); err != nil {
		return fmt.Errorf("watch dir %q: %w", r.settings.AudioDir, err)
	}
	r.logger.Info("watching for recordings", "dir", r.settings.AudioDir, "debounce", debounce)

	r.runLogged(ctx)

	timer := time.NewTimer(debounce)
	stopTimer(timer)
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			r.logger.Debug("audio dir changed", "name", event.Name, "op", event.Op.String())
			if pending {
				stopTimer(timer)
			}
			timer.Reset(debounce)
			pending = true
		case <-timer.C:
			pending = false
			r.runLogged(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch audio dir: %w", err)
		}
	}
}

func (r *Runner) runLogged(ctx context.Context) {
	if _, err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("watch run failed; waiting for the next change", "error", err)
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	return discovery.IsSupported(event.Name)
}
