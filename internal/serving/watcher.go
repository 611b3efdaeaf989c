package serving

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads the current model when its file is rewritten. It watches
// the model's directory because Save replaces the file by rename.
type Watcher struct {
	svc      *Service
	fw       *fsnotify.Watcher
	debounce time.Duration

	mu   sync.Mutex
	dirs map[string]bool
}

// NewWatcher creates a watcher following every model the service loads.
func NewWatcher(svc *Service, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w := &Watcher{svc: svc, fw: fw, debounce: debounce, dirs: make(map[string]bool)}
	svc.OnLoad(w.track)
	if cur := svc.current.Load(); cur != nil {
		w.track(cur.path)
	}
	return w, nil
}

func (w *Watcher) track(path string) {
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return
	}
	if err := w.fw.Add(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Failed to watch model directory")
		return
	}
	w.dirs[dir] = true
	log.Debug().Str("dir", dir).Msg("Watching model directory")
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := ""

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cur := w.svc.current.Load()
			if cur == nil || filepath.Clean(event.Name) != filepath.Clean(cur.path) {
				continue
			}
			pending = cur.path
			timer.Reset(w.debounce)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Model watcher error")

		case <-timer.C:
			if pending == "" {
				continue
			}
			log.Info().Str("path", pending).Msg("Model file changed, reloading")
			if err := w.svc.LoadModel(ctx, pending); err != nil {
				log.Error().Err(err).Str("path", pending).Msg("Failed to reload model")
			}
			pending = ""
		}
	}
}
