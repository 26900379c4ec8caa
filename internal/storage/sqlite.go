// Package storage provides the SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	dims *config.EmbeddingConfig
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if they do not
// exist. The embedding config fixes the accepted dimension per modality;
// upserts with any other vector length are rejected.
func NewSQLiteStorage(dbPath string, dims *config.EmbeddingConfig) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, dims: dims}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		item_id TEXT NOT NULL,
		modality TEXT NOT NULL,
		version INTEGER NOT NULL,
		dim INTEGER NOT NULL,
		vector BLOB NOT NULL,
		source_version TEXT,
		created_at TIMESTAMP NOT NULL,
		is_current INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (item_id, modality, version)
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_current
		ON embeddings(item_id, modality, is_current);
	CREATE INDEX IF NOT EXISTS idx_embeddings_modality_current
		ON embeddings(modality, is_current);

	CREATE TABLE IF NOT EXISTS quality_alerts (
		item_id TEXT PRIMARY KEY,
		risk_level TEXT NOT NULL,
		positive_reviews INTEGER NOT NULL,
		negative_reviews INTEGER NOT NULL,
		avg_rating REAL NOT NULL,
		explanation TEXT,
		generated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_risk ON quality_alerts(risk_level);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertEmbedding writes a new current version for (item, modality) and
// retires the previous current version in the same transaction. The vector
// length must match the configured dimension for the modality; on mismatch
// nothing is written and the prior current embedding stays in place.
// Version and CreatedAt are assigned on the passed embedding.
func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, emb *models.Embedding) error {
	want, err := s.dims.Dim(emb.Modality)
	if err != nil {
		return err
	}
	if len(emb.Vector) != want {
		return fmt.Errorf("%w: %s/%s vector has dim %d, configured %d",
			models.ErrDimensionMismatch, emb.ItemID, emb.Modality, len(emb.Vector), want)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM embeddings WHERE item_id = ? AND modality = ?`,
		emb.ItemID, string(emb.Modality),
	).Scan(&maxVersion)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE embeddings SET is_current = 0
		 WHERE item_id = ? AND modality = ? AND is_current = 1`,
		emb.ItemID, string(emb.Modality),
	); err != nil {
		return err
	}

	emb.Version = int(maxVersion.Int64) + 1
	emb.Dim = want
	emb.CreatedAt = time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO embeddings (item_id, modality, version, dim, vector, source_version, created_at, is_current)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		emb.ItemID, string(emb.Modality), emb.Version, emb.Dim,
		encodeVector(emb.Vector), emb.SourceVersion, emb.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// GetEmbedding returns the current embedding for (item, modality).
func (s *SQLiteStorage) GetEmbedding(ctx context.Context, itemID string, modality models.Modality) (*models.Embedding, error) {
	var emb models.Embedding
	var blob []byte
	var mod string
	err := s.db.QueryRowContext(ctx,
		`SELECT item_id, modality, version, dim, vector, source_version, created_at
		 FROM embeddings WHERE item_id = ? AND modality = ? AND is_current = 1`,
		itemID, string(modality),
	).Scan(&emb.ItemID, &mod, &emb.Version, &emb.Dim, &blob, &emb.SourceVersion, &emb.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: embedding %s/%s", models.ErrNotFound, itemID, modality)
	}
	if err != nil {
		return nil, err
	}
	emb.Modality = models.Modality(mod)
	emb.Vector = decodeVector(blob)
	return &emb, nil
}

// ListCurrentEmbeddings returns the current embedding of every item for one
// modality, ordered by item ID. This is the consistent read the index build
// runs from.
func (s *SQLiteStorage) ListCurrentEmbeddings(ctx context.Context, modality models.Modality) ([]*models.Embedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, modality, version, dim, vector, source_version, created_at
		 FROM embeddings WHERE modality = ? AND is_current = 1 ORDER BY item_id`,
		string(modality),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var embs []*models.Embedding
	for rows.Next() {
		var emb models.Embedding
		var blob []byte
		var mod string
		if err := rows.Scan(&emb.ItemID, &mod, &emb.Version, &emb.Dim, &blob, &emb.SourceVersion, &emb.CreatedAt); err != nil {
			return nil, err
		}
		emb.Modality = models.Modality(mod)
		emb.Vector = decodeVector(blob)
		embs = append(embs, &emb)
	}
	return embs, rows.Err()
}

// PruneEmbeddingVersions deletes retired versions beyond the newest
// keepVersions per (item, modality). The current version is never pruned.
// Returns the number of rows deleted.
func (s *SQLiteStorage) PruneEmbeddingVersions(ctx context.Context, keepVersions int) (int64, error) {
	if keepVersions < 1 {
		keepVersions = 1
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE is_current = 0 AND version <= (
			SELECT MAX(e2.version) - 1 - ? FROM embeddings e2
			WHERE e2.item_id = embeddings.item_id AND e2.modality = embeddings.modality
		)`, keepVersions,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ReplaceAlerts swaps the whole alert set in one transaction. Readers see
// either the old set or the new set, never a mix.
func (s *SQLiteStorage) ReplaceAlerts(ctx context.Context, alerts []*models.QualityAlert) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM quality_alerts`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO quality_alerts (item_id, risk_level, positive_reviews, negative_reviews, avg_rating, explanation, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range alerts {
		if _, err := stmt.ExecContext(ctx,
			a.ItemID, string(a.RiskLevel),
			a.Evidence.PositiveReviews, a.Evidence.NegativeReviews, a.Evidence.AvgRating,
			a.Explanation, a.GeneratedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetAlert returns the current alert for an item.
func (s *SQLiteStorage) GetAlert(ctx context.Context, itemID string) (*models.QualityAlert, error) {
	a, err := scanAlert(s.db.QueryRowContext(ctx,
		`SELECT item_id, risk_level, positive_reviews, negative_reviews, avg_rating, explanation, generated_at
		 FROM quality_alerts WHERE item_id = ?`, itemID,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: alert for %s", models.ErrNotFound, itemID)
	}
	return a, err
}

// ListAlerts returns current alerts, highest risk first and worst offenders
// (most negative reviews) on top within a tier. An empty risk filter
// returns all tiers.
func (s *SQLiteStorage) ListAlerts(ctx context.Context, risk models.RiskLevel) ([]*models.QualityAlert, error) {
	query := `SELECT item_id, risk_level, positive_reviews, negative_reviews, avg_rating, explanation, generated_at
		FROM quality_alerts`
	args := []any{}
	if risk != "" {
		query += ` WHERE risk_level = ?`
		args = append(args, string(risk))
	}
	query += `
		ORDER BY CASE risk_level
			WHEN 'HIGH_RISK' THEN 1
			WHEN 'MEDIUM_RISK' THEN 2
			WHEN 'MONITOR' THEN 3
			ELSE 4
		END, negative_reviews DESC, item_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.QualityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountCurrentEmbeddings returns the number of current embedding rows across
// all modalities.
func (s *SQLiteStorage) CountCurrentEmbeddings(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE is_current = 1`).Scan(&n)
	return n, err
}

// CountAlerts returns the number of current alerts.
func (s *SQLiteStorage) CountAlerts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quality_alerts`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.QualityAlert, error) {
	var a models.QualityAlert
	var risk string
	var explanation sql.NullString
	if err := row.Scan(&a.ItemID, &risk,
		&a.Evidence.PositiveReviews, &a.Evidence.NegativeReviews, &a.Evidence.AvgRating,
		&explanation, &a.GeneratedAt); err != nil {
		return nil, err
	}
	a.RiskLevel = models.RiskLevel(risk)
	a.Evidence.ItemID = a.ItemID
	a.Explanation = explanation.String
	return &a, nil
}

// Vector BLOBs are packed little-endian float32, the same layout the index
// codec uses on disk.
func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(x))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
