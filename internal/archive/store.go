// Package archive persists completed turn summaries to SQLite so operators
// can review what a session said and whether audio degraded.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spiralogic/oracle-voice/internal/config"
	_ "modernc.org/sqlite"
)

// TurnRecord is one archived conversation turn.
type TurnRecord struct {
	ID          int64
	SessionID   string
	ThreadID    string
	UserID      string
	Prompt      string
	Transcript  string
	EngineMode  string
	Units       int
	AudioUnits  int
	Degraded    bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// Store wraps a SQLite-backed turn archive. In ephemeral retention mode it
// holds no database and every write is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.ArchiveConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the archive according to config.
func Open(ctx context.Context, cfg config.ArchiveConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("archive vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("archive prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    thread_id TEXT,
    user_id TEXT,
    prompt TEXT,
    transcript TEXT,
    engine_mode TEXT,
    units INTEGER NOT NULL DEFAULT 0,
    audio_units INTEGER NOT NULL DEFAULT 0,
    degraded INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session_started ON turns(session_id, started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendTurn writes one completed turn into the archive.
func (s *Store) AppendTurn(ctx context.Context, rec TurnRecord) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = s.clock().UTC()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns(session_id, thread_id, user_id, prompt, transcript, engine_mode, units, audio_units, degraded, started_at, completed_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.ThreadID, rec.UserID, rec.Prompt, rec.Transcript, rec.EngineMode,
		rec.Units, rec.AudioUnits, rec.Degraded, rec.StartedAt.UTC(), rec.CompletedAt.UTC())
	return err
}

// ListSessionTurns retrieves up to limit turns for a session ordered ascending by start time.
func (s *Store) ListSessionTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, thread_id, user_id, prompt, transcript, engine_mode, units, audio_units, degraded, started_at, completed_at
		 FROM turns WHERE session_id = ? ORDER BY started_at ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var started, completed string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ThreadID, &rec.UserID, &rec.Prompt,
			&rec.Transcript, &rec.EngineMode, &rec.Units, &rec.AudioUnits, &rec.Degraded,
			&started, &completed); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			rec.StartedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, completed); err == nil {
			rec.CompletedAt = ts
		}
		turns = append(turns, rec)
	}
	return turns, rows.Err()
}

// Prune applies configured retention. Runs on startup; cheap enough to call
// from a scheduler as well.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM turns WHERE started_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxTurns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM turns WHERE id IN (
			SELECT id FROM turns ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxTurns)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
