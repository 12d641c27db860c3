package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

// Postgres implements Storage using PostgreSQL with pgvector
type Postgres struct {
	pool *pgxpool.Pool
	reg  *registry.Registry

	upsertSQL string
	selectSQL string
}

// NewPostgres creates a new Postgres storage
func NewPostgres(ctx context.Context, dsn string, reg *registry.Registry) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := &Postgres{pool: pool, reg: reg}
	p.prepareStatements()
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return p, nil
}

// postgresSchema renders the DDL for the registry's dimensions. Each
// dimension gets its own nullable vector column; approximate buckets also
// get an ivfflat index since pgvector cannot index wider vectors.
func postgresSchema(reg *registry.Registry) string {
	var b strings.Builder
	b.WriteString(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS embedding_records (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			embedding_model TEXT NOT NULL DEFAULT '',
			embedding_dimension INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, dimension)
		);
	`)

	var cols, dims []string
	for _, bucket := range reg.Buckets() {
		col := slotColumn(bucket.Dimension)
		cols = append(cols, col)
		dims = append(dims, fmt.Sprint(bucket.Dimension))

		fmt.Fprintf(&b, "ALTER TABLE embedding_records ADD COLUMN IF NOT EXISTS %s vector(%d);\n", col, bucket.Dimension)
		if bucket.Approximate() {
			fmt.Fprintf(&b,
				"CREATE INDEX IF NOT EXISTS idx_records_%s ON embedding_records USING ivfflat (%s vector_cosine_ops) WITH (lists = %d);\n",
				col, col, bucket.Lists)
		}
	}

	fmt.Fprintf(&b, `
		ALTER TABLE embedding_records DROP CONSTRAINT IF EXISTS embedding_dimension_supported;
		ALTER TABLE embedding_records ADD CONSTRAINT embedding_dimension_supported
			CHECK (embedding_dimension IN (%s)) NOT VALID;
		ALTER TABLE embedding_records DROP CONSTRAINT IF EXISTS one_embedding_slot;
		ALTER TABLE embedding_records ADD CONSTRAINT one_embedding_slot
			CHECK (num_nonnulls(%s) = 1) NOT VALID;
	`, strings.Join(dims, ", "), strings.Join(cols, ", "))

	return b.String()
}

func (p *Postgres) initSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresSchema(p.reg))
	return err
}

func (p *Postgres) prepareStatements() {
	var cols, params, updates, casts, dims []string
	for i, d := range p.reg.Dimensions() {
		col := slotColumn(d)
		cols = append(cols, col)
		dims = append(dims, fmt.Sprint(d))
		params = append(params, fmt.Sprintf("$%d", i+8))
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		casts = append(casts, col+"::vector")
	}

	p.upsertSQL = fmt.Sprintf(`
		INSERT INTO embedding_records
			(collection, id, source_id, content, embedding_model, embedding_dimension, updated_at, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, %s)
		ON CONFLICT (collection, id) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			content = EXCLUDED.content,
			embedding_model = EXCLUDED.embedding_model,
			embedding_dimension = EXCLUDED.embedding_dimension,
			updated_at = EXCLUDED.updated_at,
			%s`,
		strings.Join(cols, ", "), strings.Join(params, ", "), strings.Join(updates, ",\n\t\t\t"))

	// rows of a dimension no longer configured have no slot to read
	p.selectSQL = fmt.Sprintf(`
		SELECT id, source_id, content, embedding_model, embedding_dimension, updated_at,
		       COALESCE(%s) AS embedding
		FROM embedding_records
		WHERE collection = $1 AND embedding_dimension IN (%s)
		ORDER BY id`, strings.Join(casts, ", "), strings.Join(dims, ", "))
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) SaveRecord(ctx context.Context, collection string, rec types.EmbeddingRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, err := p.reg.Resolve(rec.Dimension); err != nil {
		return err
	}

	args := []interface{}{
		collection, rec.ID, rec.SourceID, rec.Content, rec.Model, rec.Dimension, rec.UpdatedAt,
	}
	for _, d := range p.reg.Dimensions() {
		if d == rec.Dimension {
			args = append(args, pgvector.NewVector(rec.Vector))
		} else {
			args = append(args, nil)
		}
	}

	if _, err := p.pool.Exec(ctx, p.upsertSQL, args...); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteRecord(ctx context.Context, collection, id string) error {
	result, err := p.pool.Exec(ctx,
		`DELETE FROM embedding_records WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return types.ErrNotFound
	}

	return nil
}

func (p *Postgres) DeleteSource(ctx context.Context, collection, sourceID string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`DELETE FROM embedding_records WHERE collection = $1 AND source_id = $2 RETURNING id`,
		collection, sourceID,
	)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *Postgres) LoadRecords(ctx context.Context, collection string, fn func(types.EmbeddingRecord) error) error {
	rows, err := p.pool.Query(ctx, p.selectSQL, collection)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rec types.EmbeddingRecord
		var vec pgvector.Vector

		err := rows.Scan(&rec.ID, &rec.SourceID, &rec.Content, &rec.Model, &rec.Dimension, &rec.UpdatedAt, &vec)
		if err != nil {
			return err
		}
		rec.Vector = vec.Slice()

		if err := fn(rec); err != nil {
			return err
		}
	}

	return rows.Err()
}

func (p *Postgres) SaveBucket(ctx context.Context, meta types.BucketMeta) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO dimension_buckets (collection, dimension, model_hint, state, records, lists, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (collection, dimension) DO UPDATE SET
			model_hint = EXCLUDED.model_hint,
			state = EXCLUDED.state,
			records = EXCLUDED.records,
			lists = EXCLUDED.lists,
			updated_at = EXCLUDED.updated_at`,
		meta.Collection, meta.Dimension, meta.ModelHint, string(meta.State), meta.Records, meta.Lists, meta.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save bucket: %w", err)
	}
	return nil
}

func (p *Postgres) LoadBuckets(ctx context.Context, collection string) ([]types.BucketMeta, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT collection, dimension, model_hint, state, records, lists, updated_at
		FROM dimension_buckets
		WHERE collection = $1
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
