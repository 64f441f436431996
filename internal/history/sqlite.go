package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tospeech/server/internal/model"

	_ "modernc.org/sqlite"
)

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS audio_history (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id        TEXT NOT NULL,
    text_input      TEXT NOT NULL,
    model_name      TEXT NOT NULL,
    speaker         TEXT,
    cfg_scale       REAL NOT NULL,
    inference_steps INTEGER NOT NULL,
    duration        REAL NOT NULL DEFAULT 0,
    file_path       TEXT NOT NULL,
    created_at      DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createHistoryTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateArtifact inserts one artifact record and backfills its row id.
func (s *SQLiteStore) CreateArtifact(ctx context.Context, rec *model.ArtifactRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audio_history (
			owner_id, text_input, model_name, speaker,
			cfg_scale, inference_steps, duration, file_path, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OwnerID, rec.TextInput, rec.ModelName, rec.Voice,
		rec.GuidanceScale, rec.InferenceSteps, rec.Duration, rec.StoragePath, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("artifact row id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListArtifacts returns one owner's records ordered newest first, along with
// the owner's total record count.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, ownerID string, limit, offset int) ([]*model.ArtifactRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audio_history WHERE owner_id = ?", ownerID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count artifacts: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, owner_id, text_input, model_name, speaker,
			cfg_scale, inference_steps, duration, file_path, created_at
		FROM audio_history
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, ownerID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var records []*model.ArtifactRecord
	for rows.Next() {
		rec := &model.ArtifactRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.OwnerID, &rec.TextInput, &rec.ModelName, &rec.Voice,
			&rec.GuidanceScale, &rec.InferenceSteps, &rec.Duration, &rec.StoragePath, &rec.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan artifact: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate artifacts: %w", err)
	}

	return records, total, nil
}
