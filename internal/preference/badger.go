package preference

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"asyncedit/internal/model"
)

const keyPrefix = "pref/"

type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// Badger persists preferences in BadgerDB and serves reads from memory.
// Preference is on the per-block write path, so lookups never touch disk
// after the first read of an actor.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[model.ActorID]cached
}

type cached struct {
	async bool
	found bool
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent preference store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create preference directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{
		db:     db,
		logger: logger,
		cache:  make(map[model.ActorID]cached),
	}, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// Preference returns the stored preference. Read failures are logged and
// reported as absent.
func (b *Badger) Preference(actor model.ActorID) (bool, bool) {
	b.mu.RLock()
	c, hit := b.cache[actor]
	b.mu.RUnlock()
	if hit {
		return c.async, c.found
	}

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(actor))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		c.found = true
		return item.Value(func(val []byte) error {
			c.async = len(val) > 0 && val[0] == 1
			return nil
		})
	})
	if err != nil {
		b.logger.Error("read preference failed", "actor", actor.String(), "error", err)
		return false, false
	}
	c = b.settle(actor, c)
	return c.async, c.found
}

func (b *Badger) SetPreference(actor model.ActorID, async bool) error {
	val := []byte{0}
	if async {
		val[0] = 1
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(actor), val)
	}); err != nil {
		return fmt.Errorf("store preference: %w", err)
	}
	b.remember(actor, cached{async: async, found: true})
	return nil
}

func (b *Badger) ClearPreference(actor model.ActorID) error {
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(actor))
	}); err != nil {
		return fmt.Errorf("clear preference: %w", err)
	}
	b.remember(actor, cached{})
	return nil
}

// settle caches a value loaded from disk unless a writer cached one first,
// and returns the cached value.
func (b *Badger) settle(actor model.ActorID, loaded cached) cached {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.cache[actor]; ok {
		return c
	}
	b.cache[actor] = loaded
	return loaded
}

func (b *Badger) remember(actor model.ActorID, c cached) {
	b.mu.Lock()
	b.cache[actor] = c
	b.mu.Unlock()
}

func key(actor model.ActorID) []byte {
	return append([]byte(keyPrefix), actor[:]...)
}
