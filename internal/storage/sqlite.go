//go:build cgo

package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

// SQLite implements Storage using SQLite with sqlite-vec
type SQLite struct {
	conn *sql.DB
	reg  *registry.Registry

	upsertSQL string
	selectSQL string
}

// NewSQLite creates a new SQLite storage
func NewSQLite(path string, reg *registry.Registry) (*SQLite, error) {
	sqlite_vec.Auto()

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{conn: conn, reg: reg}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.prepareStatements()

	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS embedding_records (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			embedding_model TEXT NOT NULL DEFAULT '',
			embedding_dimension INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, id)
		);

		CREATE INDEX IF NOT EXISTS idx_records_source ON embedding_records(collection, source_id);

		CREATE TABLE IF NOT EXISTS dimension_buckets (
			collection TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			model_hint TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			records INTEGER NOT NULL DEFAULT 0,
			lists INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, dimension)
		);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return err
	}

	// SQLite has no ADD COLUMN IF NOT EXISTS
	for _, d := range s.reg.Dimensions() {
		col := slotColumn(d)
		var n int
		err := s.conn.QueryRow(
			`SELECT COUNT(*) FROM pragma_table_info('embedding_records') WHERE name = ?`, col,
		).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := s.conn.Exec(fmt.Sprintf("ALTER TABLE embedding_records ADD COLUMN %s BLOB", col)); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}
	return nil
}

func (s *SQLite) prepareStatements() {
	var cols, params, updates, checks, dims []string
	for _, d := range s.reg.Dimensions() {
		col := slotColumn(d)
		cols = append(cols, col)
		dims = append(dims, fmt.Sprint(d))
		params = append(params, "?")
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		checks = append(checks, fmt.Sprintf("WHEN %d THEN %s", d, col))
	}

	s.upsertSQL = fmt.Sprintf(`
		INSERT INTO embedding_records
			(collection, id, source_id, content, embedding_model, embedding_dimension, updated_at, %s)
		VALUES (?, ?, ?, ?, ?, ?, ?, %s)
		ON CONFLICT (collection, id) DO UPDATE SET
			source_id = excluded.source_id,
			content = excluded.content,
			embedding_model = excluded.embedding_model,
			embedding_dimension = excluded.embedding_dimension,
			updated_at = excluded.updated_at,
			%s`,
		strings.Join(cols, ", "), strings.Join(params, ", "), strings.Join(updates, ",\n\t\t\t"))

	// vec_length validates the stored blob is a well-formed float32 vector.
	// Rows of a dimension no longer configured have no slot to read.
	s.selectSQL = fmt.Sprintf(`
		SELECT id, source_id, content, embedding_model, embedding_dimension, updated_at,
		       CASE embedding_dimension %s END AS embedding,
		       vec_length(CASE embedding_dimension %s END) AS embedding_length
		FROM embedding_records
		WHERE collection = ? AND embedding_dimension IN (%s)
		ORDER BY id`, strings.Join(checks, " "), strings.Join(checks, " "), strings.Join(dims, ", "))
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) SaveRecord(ctx context.Context, collection string, rec types.EmbeddingRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, err := s.reg.Resolve(rec.Dimension); err != nil {
		return err
	}

	blob, err := sqlite_vec.SerializeFloat32(rec.Vector)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	args := []interface{}{
		collection, rec.ID, rec.SourceID, rec.Content, rec.Model, rec.Dimension, rec.UpdatedAt,
	}
	for _, d := range s.reg.Dimensions() {
		if d == rec.Dimension {
			args = append(args, blob)
		} else {
			args = append(args, nil)
		}
	}

	if _, err := s.conn.ExecContext(ctx, s.upsertSQL, args...); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteRecord(ctx context.Context, collection, id string) error {
	result, err := s.conn.ExecContext(ctx,
		`DELETE FROM embedding_records WHERE collection = ? AND id = ?`,
		collection, id,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return types.ErrNotFound
	}

	return nil
}

func (s *SQLite) DeleteSource(ctx context.Context, collection, sourceID string) ([]string, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM embedding_records WHERE collection = ? AND source_id = ? ORDER BY id`,
		collection, sourceID,
	)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embedding_records WHERE collection = ? AND source_id = ?`,
		collection, sourceID,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLite) LoadRecords(ctx context.Context, collection string, fn func(types.EmbeddingRecord) error) error {
	rows, err := s.conn.QueryContext(ctx, s.selectSQL, collection)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rec types.EmbeddingRecord
		var blob []byte
		var length int

		if err := rows.Scan(&rec.ID, &rec.SourceID, &rec.Content, &rec.Model, &rec.Dimension, &rec.UpdatedAt, &blob, &length); err != nil {
			return err
		}
		if length != rec.Dimension {
			return &types.DimensionMismatchError{ID: rec.ID, Declared: rec.Dimension, Actual: length}
		}
		rec.Vector = decodeFloat32(blob)

		if err := fn(rec); err != nil {
			return err
		}
	}

	return rows.Err()
}

func (s *SQLite) SaveBucket(ctx context.Context, meta types.BucketMeta) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO dimension_buckets (collection, dimension, model_hint, state, records, lists, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, dimension) DO UPDATE SET
			model_hint = excluded.model_hint,
			state = excluded.state,
			records = excluded.records,
			lists = excluded.lists,
			updated_at = excluded.updated_at`,
		meta.Collection, meta.Dimension, meta.ModelHint, string(meta.State), meta.Records, meta.Lists, meta.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save bucket: %w", err)
	}
	return nil
}

func (s *SQLite) LoadBuckets(ctx context.Context, collection string) ([]types.BucketMeta, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT collection, dimension, model_hint, state, records, lists, updated_at
		FROM dimension_buckets
		WHERE collection = ?
		ORDER BY dimension`,
		collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []types.BucketMeta
	for rows.Next() {
		var m types.BucketMeta
		var state string
		if err := rows.Scan(&m.Collection, &m.Dimension, &m.ModelHint, &state, &m.Records, &m.Lists, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.State = types.IndexState(state)
		metas = append(metas, m)
	}

	return metas, rows.Err()
}

// decodeFloat32 reverses sqlite_vec.SerializeFloat32 (little-endian float32s)
func decodeFloat32(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}
