package policy

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/zombor/expense-intake/internal/metrics"
)

// Loader holds the current policy and reloads it when the backing file changes.
// A Loader without a path serves the built-in policy.
type Loader struct {
	path     string
	logger   *zap.Logger
	mu       sync.RWMutex
	current  *Document
	onChange []func(*Document)
}

// NewLoader creates a Loader and performs the initial load
func NewLoader(path string, logger *zap.Logger) (*Loader, error) {
	l := &Loader{path: path, logger: logger}
	if path == "" {
		l.current = DefaultDocument()
		return l, nil
	}
	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = doc
	return l, nil
}

// Policy returns the latest loaded policy
func (l *Loader) Policy() *Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload
func (l *Loader) OnChange(fn func(*Document)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// CountReloads bumps the policy reload counter after every successful reload
func (l *Loader) CountReloads() {
	l.OnChange(func(*Document) { metrics.PolicyReloadsTotal.Inc() })
}

// Watch hot-reloads the policy on file changes until stop is called.
// Invalid edits are logged and the previous policy stays in effect.
func (l *Loader) Watch() (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("policy watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.logger.Warn("Keeping previous policy", zap.String("path", l.path), zap.Error(err))
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("Policy watcher error", zap.Error(err))
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the policy file
func (l *Loader) Reload() (*Document, error) {
	if l.path == "" {
		return l.Policy(), nil
	}
	doc, err := l.load()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = doc
	callbacks := make([]func(*Document), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	l.logger.Info("Policy reloaded", zap.String("path", l.path), zap.Int("departments", len(doc.Departments)))
	for _, fn := range callbacks {
		fn(doc)
	}
	return doc, nil
}

func (l *Loader) load() (*Document, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading policy %s: %w", l.path, err)
	}
	return Parse(data)
}
