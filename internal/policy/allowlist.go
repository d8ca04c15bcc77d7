// Package policy decides which operation kinds may run asynchronously.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"asyncedit/internal/model"
)

// File is the on-disk shape of the allow-list:
//
//	default: true
//	async:
//	  fill: true
//	  regen: false
type File struct {
	Default *bool           `yaml:"default"`
	Async   map[string]bool `yaml:"async"`
}

// AllowList answers whether an operation kind may run asynchronously.
// Kinds not listed get the default. It is safe for concurrent use.
type AllowList struct {
	mu    sync.RWMutex
	def   bool
	kinds map[model.OperationKind]bool

	logger *slog.Logger
}

func NewAllowList(def bool, kinds map[model.OperationKind]bool) *AllowList {
	a := &AllowList{def: def, kinds: make(map[model.OperationKind]bool, len(kinds)), logger: slog.Default()}
	for k, v := range kinds {
		a.kinds[k] = v
	}
	return a
}

// Load reads the allow-list at path. A missing file allows everything.
func Load(path string, logger *slog.Logger) (*AllowList, error) {
	a := NewAllowList(true, nil)
	if logger != nil {
		a.logger = logger
	}
	if path == "" {
		return a, nil
	}
	if err := a.Reload(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return a, nil
}

func (a *AllowList) IsAllowed(kind model.OperationKind) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if v, ok := a.kinds[kind]; ok {
		return v
	}
	return a.def
}

// Set overrides a single kind.
func (a *AllowList) Set(kind model.OperationKind, allowed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kinds[kind] = allowed
}

// Reload replaces the list with the contents of path. On error the current
// list is kept.
func (a *AllowList) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read allow-list %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse allow-list %s: %w", path, err)
	}

	def := true
	if f.Default != nil {
		def = *f.Default
	}
	kinds := make(map[model.OperationKind]bool, len(f.Async))
	for k, v := range f.Async {
		kinds[model.OperationKind(strings.ToLower(strings.TrimSpace(k)))] = v
	}

	a.mu.Lock()
	a.def = def
	a.kinds = kinds
	a.mu.Unlock()
	a.logger.Info("allow-list loaded", "path", path, "default", def, "kinds", len(kinds))
	return nil
}

// Watch reloads the list whenever path is written or replaced, until ctx is
// done. The parent directory is watched so editors that rename files are
// picked up.
func (a *AllowList) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := a.Reload(abs); err != nil {
				a.logger.Warn("allow-list reload failed", "path", abs, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("allow-list watcher error", "error", err)
		}
	}
}
