package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"asyncedit/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS changes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	world       TEXT    NOT NULL,
	x           INTEGER NOT NULL,
	y           INTEGER NOT NULL,
	z           INTEGER NOT NULL,
	block_type  INTEGER NOT NULL,
	block_data  INTEGER NOT NULL,
	job_id      INTEGER NOT NULL,
	async       INTEGER NOT NULL,
	actor       TEXT    NOT NULL,
	applied     INTEGER NOT NULL,
	error       TEXT    NOT NULL DEFAULT '',
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS changes_actor ON changes(actor);
`

// Record is one audited change.
type Record struct {
	World      string
	Position   model.Position
	Block      model.Block
	Job        model.JobID
	Async      bool
	Actor      model.ActorID
	Applied    bool
	Error      string
	RecordedAt time.Time
}

// SQLiteRecorder stores the outcome of every change in SQLite.
type SQLiteRecorder struct {
	sqlDB  *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens the audit database at path, creating the schema.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteRecorder, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("audit path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &SQLiteRecorder{sqlDB: sqlDB, logger: logger}, nil
}

func (r *SQLiteRecorder) Close() error {
	if r == nil || r.sqlDB == nil {
		return nil
	}
	return r.sqlDB.Close()
}

func (r *SQLiteRecorder) BeforeChange(context.Context, string, model.Change) error { return nil }

func (r *SQLiteRecorder) AfterChange(ctx context.Context, world string, c model.Change, applied bool, err error) {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	pos, block := c.Position(), c.Block()
	_, execErr := r.sqlDB.ExecContext(ctx, `
INSERT INTO changes (world, x, y, z, block_type, block_data, job_id, async, actor, applied, error, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		world, pos.X, pos.Y, pos.Z, int(block.Type), int(block.Data), int(c.Job()),
		boolToInt(c.Async()), c.Actor().String(), boolToInt(applied), msg, time.Now().UTC().UnixMilli())
	if execErr != nil {
		r.logger.Error("audit insert failed", "world", world, "actor", c.Actor().String(), "error", execErr)
	}
}

// Recent returns the newest records of actor, newest first.
func (r *SQLiteRecorder) Recent(ctx context.Context, actor model.ActorID, limit int) ([]Record, error) {
	rows, err := r.sqlDB.QueryContext(ctx, `
SELECT world, x, y, z, block_type, block_data, job_id, async, actor, applied, error, recorded_at
FROM changes WHERE actor = ? ORDER BY id DESC LIMIT ?`, actor.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec            Record
			typ, data, job int
			async, applied int
			actorText      string
			recordedAt     int64
		)
		if err := rows.Scan(&rec.World, &rec.Position.X, &rec.Position.Y, &rec.Position.Z,
			&typ, &data, &job, &async, &actorText, &applied, &rec.Error, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		id, err := uuid.Parse(actorText)
		if err != nil {
			return nil, fmt.Errorf("parse audit actor: %w", err)
		}
		rec.Block = model.Block{Type: uint16(typ), Data: uint8(data)}
		rec.Job = model.JobID(job)
		rec.Async = async != 0
		rec.Actor = id
		rec.Applied = applied != 0
		rec.RecordedAt = time.UnixMilli(recordedAt).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
