// Package postgres implements storage.Durable against a PostgreSQL
// database via pgx's database/sql driver and sqlx, with schema managed
// by versioned, forward-only goose migrations. Episodes and patterns
// are persisted as a JSONB envelope alongside the indexed columns the
// spatiotemporal index's own filters need, a structured-but-queryable
// payload shape.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/mathutil"
	"github.com/jordigilh/episodic-memory/pkg/pattern"
	"github.com/jordigilh/episodic-memory/pkg/storage"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// NewPgxConnConfig parses a PostgreSQL connection string and forces
// QueryExecModeDescribeExec. pgx's default, QueryExecModeCacheStatement,
// caches prepared statement plans that go stale the moment a schema
// migration runs against an already-open connection, surfacing as
// "cached plan must not change result type" (SQLSTATE 0A000).
// DescribeExec re-describes each query's parameter OIDs without
// caching the plan, which also happens to be required to encode JSONB
// parameters correctly.
func NewPgxConnConfig(connString string) (*pgx.ConnConfig, error) {
	connConfig, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL connection string: %w", err)
	}
	connConfig.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec
	return connConfig, nil
}

// Durable is a sqlx-backed storage.Durable. PutEpisode, PutPattern,
// PutHeuristic and StoreEmbedding accept a storage.Tx obtained from
// BeginTx so they can be committed atomically by the façade's two-phase
// coordinator; the Delete* calls always run outside a transaction.
type Durable struct {
	db *sqlx.DB
}

// Open connects to connString, runs pending migrations, and returns a
// ready Durable. Schema creation is idempotent: goose records applied
// versions in its own bookkeeping table and skips them on restart.
func Open(ctx context.Context, connString string) (*Durable, error) {
	connConfig, err := NewPgxConnConfig(connString)
	if err != nil {
		return nil, apperrors.Backend(err, "invalid postgres connection string")
	}

	sqlDB := stdlib.OpenDB(*connConfig)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, apperrors.Backend(err, "failed to connect to postgres")
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = sqlDB.Close()
		return nil, apperrors.Backend(err, "failed to set goose dialect")
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		_ = sqlDB.Close()
		return nil, apperrors.Backend(err, "failed to apply postgres migrations")
	}

	return &Durable{db: sqlx.NewDb(sqlDB, "pgx")}, nil
}

// Close releases the underlying connection pool.
func (d *Durable) Close() error {
	return d.db.Close()
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func (d *Durable) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.Backend(err, "failed to begin postgres transaction")
	}
	return &pgTx{tx: tx}, nil
}

// execer is satisfied by both *sqlx.DB and *sqlx.Tx, letting every
// query helper below run either standalone or scoped to a caller's Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (d *Durable) execerFor(tx storage.Tx) execer {
	if pt, ok := tx.(*pgTx); ok && pt != nil {
		return pt.tx
	}
	return d.db
}

type episodeRow struct {
	ID        uuid.UUID `db:"id"`
	Domain    string    `db:"domain"`
	TaskType  int       `db:"task_type"`
	Data      []byte    `db:"data"`
	Completed bool      `db:"completed"`
}

func (d *Durable) PutEpisode(ctx context.Context, tx storage.Tx, ep *episode.Episode) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeBackend, "failed to marshal episode")
	}

	_, err = d.execerFor(tx).ExecContext(ctx, `
		INSERT INTO episodes (id, domain, task_type, start_time, end_time, completed, tags, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO UPDATE SET
			domain = EXCLUDED.domain,
			task_type = EXCLUDED.task_type,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			completed = EXCLUDED.completed,
			tags = EXCLUDED.tags,
			data = EXCLUDED.data,
			updated_at = now()
	`, ep.ID, ep.Context.Domain, int(ep.Context.TaskType), ep.StartTime, ep.EndTime, ep.IsComplete(), pqStringArray(ep.Tags), data)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeBackend, "failed to upsert episode")
	}
	return nil
}

func (d *Durable) GetEpisode(ctx context.Context, id uuid.UUID) (*episode.Episode, error) {
	var row episodeRow
	err := d.db.GetContext(ctx, &row, `SELECT id, domain, task_type, data, completed FROM episodes WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeBackend, "failed to fetch episode")
	}
	var ep episode.Episode
	if err := json.Unmarshal(row.Data, &ep); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeBackend, "failed to unmarshal episode")
	}
	return &ep, nil
}

func (d *Durable) ListEpisodes(ctx context.Context, filter storage.EpisodeFilter, limit, offset int) ([]*episode.Episode, error) {
	query := `SELECT id, domain, task_type, data, completed FROM episodes WHERE 1=1`
	args := []interface{}{}
	argN := 1

	if filter.CompletedOnly {
		query += " AND completed = true"
	}
	if filter.Domain != "" {
		query += fmt.Sprintf(" AND domain = $%d", argN)
		args = append(args, filter.Domain)
		argN++
	}
	if filter.TaskType != episode.TaskTypeUnknown {
		query += fmt.Sprintf(" AND task_type = $%d", argN)
		args = append(args, int(filter.TaskType))
		argN++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND start_time >= $%d", argN)
		args = append(args, filter.Since)
		argN++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(" AND start_time <= $%d", argN)
		args = append(args, filter.Until)
		argN++
	}
	for _, tag := range filter.Tags {
		query += fmt.Sprintf(" AND $%d = ANY(tags)", argN)
		args = append(args, tag)
		argN++
	}
	query += " ORDER BY start_time ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", offset)
	}

	var rows []episodeRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeBackend, "failed to list episodes")
	}

	result := make([]*episode.Episode, 0, len(rows))
	for _, row := range rows {
		var ep episode.Episode
		if err := json.Unmarshal(row.Data, &ep); err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeBackend, "failed to unmarshal episode")
		}
		result = append(result, &ep)
	}
	return result, nil
}

func (d *Durable) DeleteEpisode(ctx context.Context, id uuid.UUID) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeBackend, "failed to delete episode")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NotFound(id.String())
	}
	return nil
}

type patternRow struct {
	ID         uuid.UUID `db:"id"`
	Kind       int       `db:"kind"`
	Confidence float64   `db:"confidence"`
	Data       []byte    `db:"data"`
}

func (d *Durable) PutPattern(ctx context.Context, tx storage.Tx, p *pattern.Pattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeBackend, "failed to marshal pattern")
	}
	_, err = d.execerFor(tx).ExecContext(ctx, `
		INSERT INTO patterns (id, kind, confidence, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			confidence = EXCLUDED.confidence,
			data = EXCLUDED.data,
			updated_at = now()
	`, p.ID, int(p.Kind), p.Confidence, data)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeBackend, "failed to upsert pattern")
	}
	return nil
}

func (d *Durable) QueryPatterns(ctx context.Context, filter storage.PatternFilter) ([]*pattern.Pattern, error) {
	query := `SELECT id, kind, confidence, data FROM patterns WHERE confidence >= $1`
	args := []interface{}{filter.MinConfidence}
	if filter.Kind != nil {
		query += " AND kind = $2"
		args = append(args, int(*filter.Kind))
	}

	var rows []patternRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeBackend, "failed to query patterns")
	}

	result := make([]*pattern.Pattern, 0, len(rows))
	for _, row := range rows {
		var p pattern.Pattern
		if err := json.Unmarshal(row.Data, &p); err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeBackend, "failed to unmarshal pattern")
		}
		result = append(result, &p)
	}
	return result, nil
}

func (d *Durable) DeletePattern(ctx context.Context, id uuid.UUID) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM patterns WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeBackend, "failed to delete pattern")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NotFound(id.String())
	}
	return nil
}

type heuristicRow struct {
	ID                 uuid.UUID `db:"id"`
	ConditionPredicate string    `db:"condition_predicate"`
	ActionTemplate     string    `db:"action_template"`
	Confidence         float64   `db:"confidence"`
	EvidenceCount      int       `db:"evidence_count"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (d *Durable) PutHeuristic(ctx context.Context, tx storage.Tx, h *pattern.Heuristic) error {
	_, err := d.execerFor(tx).ExecContext(ctx, `
		INSERT INTO heuristics (id, condition_predicate, action_template, confidence, evidence_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			condition_predicate = EXCLUDED.condition_predicate,
			action_template = EXCLUDED.action_template,
			confidence = EXCLUDED.confidence,
			evidence_count = EXCLUDED.evidence_count,
			updated_at = now()
	`, h.ID, h.ConditionPredicate, h.ActionTemplate, h.Confidence, h.EvidenceCount)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeBackend, "failed to upsert heuristic")
	}
	return nil
}

func (d *Durable) QueryHeuristics(ctx context.Context, minConfidence float64) ([]*pattern.Heuristic, error) {
	var rows []heuristicRow
	if err := d.db.SelectContext(ctx, &rows, `
		SELECT id, condition_predicate, action_template, confidence, evidence_count, created_at, updated_at
		FROM heuristics WHERE confidence >= $1
	`, minConfidence); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeBackend, "failed to query heuristics")
	}

	result := make([]*pattern.Heuristic, 0, len(rows))
	for _, row := range rows {
		result = append(result, &pattern.Heuristic{
			ID:                 row.ID,
			ConditionPredicate: row.ConditionPredicate,
			ActionTemplate:     row.ActionTemplate,
			Confidence:         row.Confidence,
			EvidenceCount:      row.EvidenceCount,
			CreatedAt:          row.CreatedAt,
			UpdatedAt:          row.UpdatedAt,
		})
	}
	return result, nil
}

func (d *Durable) DeleteHeuristic(ctx context.Context, id uuid.UUID) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM heuristics WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeBackend, "failed to delete heuristic")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NotFound(id.String())
	}
	return nil
}

func (d *Durable) StoreEmbedding(ctx context.Context, tx storage.Tx, key string, vector []float64) error {
	_, err := d.execerFor(tx).ExecContext(ctx, `
		INSERT INTO embeddings (key, vector) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET vector = EXCLUDED.vector
	`, key, pqFloatArray(vector))
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeBackend, "failed to store embedding")
	}
	return nil
}

// SearchSimilar is a brute-force fallback for when no native vector
// index is available: every stored embedding is loaded and scored in
// Go, since this backend carries no pgvector extension dependency.
func (d *Durable) SearchSimilar(ctx context.Context, vector []float64, k int, threshold float64) ([]storage.SimilarityMatch, error) {
	rows, err := d.db.QueryxContext(ctx, `SELECT key, vector FROM embeddings`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeBackend, "failed to scan embeddings")
	}
	defer rows.Close()

	matches := make([]storage.SimilarityMatch, 0)
	for rows.Next() {
		var key string
		var vec []float64
		if err := rows.Scan(&key, &vec); err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeBackend, "failed to scan embedding row")
		}
		score := mathutil.CosineSimilarity(vector, vec)
		if score >= threshold {
			matches = append(matches, storage.SimilarityMatch{Key: key, Score: score})
		}
	}
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score > matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// pqStringArray and pqFloatArray return the slice unchanged, or an
// empty slice for nil, so the bound array parameter is never NULL.
func pqStringArray(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func pqFloatArray(fs []float64) []float64 {
	if fs == nil {
		return []float64{}
	}
	return fs
}
