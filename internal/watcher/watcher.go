// Package watcher watches a project's card files and reports external
// edits to the query engine as card-changed events.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"deckard/internal/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher debounces file events on <projectDir>/cards/*.yaml and calls
// onCardChanged with the card key derived from the file name.
type Watcher struct {
	mu            sync.Mutex
	fsw           *fsnotify.Watcher
	cardsDir      string
	onCardChanged func(cardKey string)
	debounce      time.Duration
	pending       map[string]*time.Timer
	stopCh        chan struct{}
	doneCh        chan struct{}
	running       bool
}

// New creates a watcher over projectDir/cards.
func New(projectDir string, onCardChanged func(cardKey string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:           fsw,
		cardsDir:      filepath.Join(projectDir, "cards"),
		onCardChanged: onCardChanged,
		debounce:      500 * time.Millisecond,
		pending:       make(map[string]*time.Timer),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start begins watching; non-blocking. ctx cancellation stops the
// watcher as Stop does.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.fsw.Add(w.cardsDir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	log := logging.Get(logging.CategoryWatcher)
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			key := cardKeyFromPath(event.Name)
			if key == "" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("card file event", zap.String("card", key), zap.String("op", event.Op.String()))
			w.schedule(key)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", zap.Error(err))
		}
	}
}

// schedule fires onCardChanged after the debounce window; a new event
// for the same card resets the window.
func (w *Watcher) schedule(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[key]; ok {
		timer.Stop()
	}
	w.pending[key] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, key)
		w.mu.Unlock()
		w.onCardChanged(key)
	})
}

func cardKeyFromPath(path string) string {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".yaml") {
		return ""
	}
	return strings.TrimSuffix(base, ".yaml")
}

// Stop terminates the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.fsw.Close()
		return
	}
	w.running = false
	for key, timer := range w.pending {
		timer.Stop()
		delete(w.pending, key)
	}
	close(w.stopCh)
	w.mu.Unlock()

	w.fsw.Close()
	<-w.doneCh
}
