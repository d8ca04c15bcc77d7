// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"asyncedit/internal/model"
)

type Config struct {
	HTTPAddr string `env:"GRID_HTTP_ADDR" envDefault:"127.0.0.1:8080"`
	DataDir  string `env:"GRID_DATA_DIR" envDefault:"./data"`

	PlacerWorkers    int `env:"GRID_PLACER_WORKERS" envDefault:"4"`
	PlacerReadyQueue int `env:"GRID_PLACER_READY_QUEUE" envDefault:"1024"`

	// MaxQueued is the backlog threshold that forces a session flush.
	MaxQueued int `env:"GRID_MAX_QUEUED" envDefault:"10000"`
	// MaxChanges is the per-session change budget; -1 disables it.
	MaxChanges int `env:"GRID_MAX_CHANGES" envDefault:"-1"`

	OperationsFile  string `env:"GRID_OPERATIONS_FILE"`
	WatchOperations bool   `env:"GRID_WATCH_OPERATIONS" envDefault:"true"`

	JournalFlushInterval  time.Duration `env:"GRID_JOURNAL_FLUSH_INTERVAL" envDefault:"1s"`
	JournalEnqueueTimeout time.Duration `env:"GRID_JOURNAL_ENQUEUE_TIMEOUT" envDefault:"5s"`
	JournalBufferBytes    int           `env:"GRID_JOURNAL_BUFFER_BYTES" envDefault:"4194304"`

	// ProtectedChunks lists world:chunkX:chunkZ columns that refuse edits.
	ProtectedChunks []string `env:"GRID_PROTECTED_CHUNKS" envSeparator:","`

	// AuditEnabled records every change in SQLite under DataDir.
	AuditEnabled bool `env:"GRID_AUDIT" envDefault:"false"`

	LogLevel  string `env:"GRID_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"GRID_LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxQueued <= 0 {
		return fmt.Errorf("GRID_MAX_QUEUED must be positive, got %d", c.MaxQueued)
	}
	if c.MaxChanges < -1 {
		return fmt.Errorf("GRID_MAX_CHANGES must be -1 or more, got %d", c.MaxChanges)
	}
	if c.PlacerWorkers <= 0 {
		return fmt.Errorf("GRID_PLACER_WORKERS must be positive, got %d", c.PlacerWorkers)
	}
	if _, err := c.ProtectedRegions(); err != nil {
		return err
	}
	return nil
}

// ProtectedRegions parses ProtectedChunks.
func (c Config) ProtectedRegions() ([]model.RegionKey, error) {
	keys := make([]model.RegionKey, 0, len(c.ProtectedChunks))
	for _, raw := range c.ProtectedChunks {
		parts := strings.Split(strings.TrimSpace(raw), ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("GRID_PROTECTED_CHUNKS entry %q: want world:chunkX:chunkZ", raw)
		}
		x, errX := strconv.ParseInt(parts[1], 10, 32)
		z, errZ := strconv.ParseInt(parts[2], 10, 32)
		if errX != nil || errZ != nil {
			return nil, fmt.Errorf("GRID_PROTECTED_CHUNKS entry %q: bad chunk coordinates", raw)
		}
		keys = append(keys, model.RegionKey{
			World: parts[0],
			Chunk: model.ChunkCoord{X: int32(x), Z: int32(z)},
		})
	}
	return keys, nil
}

func (c Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.log")
}

func (c Config) PreferencesDir() string {
	return filepath.Join(c.DataDir, "preferences")
}

func (c Config) AuditPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
