package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/geolens/geo-audit/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it,
// which keeps the postgres paths testable without a live database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"insert_audit":     `INSERT INTO audits (id, brand_name, target_brand, keywords, target_website, competitors, ground_truth, status, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_audit":        `SELECT id, brand_name, target_brand, keywords, target_website, competitors, ground_truth, status, geo_score, error, failures, discarded, total_cost, started_at, completed_at FROM audits WHERE id = $1`,
	"delete_audit":     `DELETE FROM audits WHERE id = $1`,
	"set_audit_error":  `UPDATE audits SET status = $1, error = $2, geo_score = NULL, completed_at = $3 WHERE id = $4 AND status IN ($5, $6)`,
	"set_audit_result": `UPDATE audits SET status = $1, geo_score = $2, error = NULL, failures = $3, discarded = $4, total_cost = $5, completed_at = $6 WHERE id = $7 AND status = $8`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS audits (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	brand_name     TEXT NOT NULL,
	target_brand   TEXT NOT NULL,
	keywords       JSONB NOT NULL,
	target_website TEXT,
	competitors    JSONB,
	ground_truth   JSONB,
	status         TEXT NOT NULL DEFAULT 'pending',
	geo_score      JSONB,
	error          TEXT,
	failures       JSONB,
	discarded      INTEGER NOT NULL DEFAULT 0,
	total_cost     DOUBLE PRECISION NOT NULL DEFAULT 0,
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_audits_status ON audits(status);
CREATE INDEX IF NOT EXISTS idx_audits_brand ON audits(brand_name);
CREATE INDEX IF NOT EXISTS idx_audits_started_at ON audits(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateAudit(ctx context.Context, req model.AuditRequest) (*model.AuditRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	keywordsJSON, err := json.Marshal(req.Keywords)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal keywords")
	}
	competitorsJSON, err := json.Marshal(req.Competitors)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal competitors")
	}
	groundTruthJSON, err := json.Marshal(req.GroundTruth)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal ground truth")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audits (id, brand_name, target_brand, keywords, target_website, competitors, ground_truth, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, req.BrandName, req.TargetBrand, keywordsJSON, req.TargetWebsite,
		competitorsJSON, groundTruthJSON, string(model.AuditStatusPending), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert audit")
	}

	return &model.AuditRecord{
		ID:            id,
		BrandName:     req.BrandName,
		TargetBrand:   req.TargetBrand,
		Keywords:      req.Keywords,
		TargetWebsite: req.TargetWebsite,
		Competitors:   req.Competitors,
		GroundTruth:   req.GroundTruth,
		Status:        model.AuditStatusPending,
		StartedAt:     now,
	}, nil
}

func (s *PostgresStore) UpdateAuditStatus(ctx context.Context, auditID string, status model.AuditStatus) error {
	prev := allowedPrev(status)
	if len(prev) == 0 {
		return eris.Wrapf(ErrInvalidTransition, "postgres: target status %s", status)
	}

	placeholders := make([]string, len(prev))
	args := []any{string(status), auditID}
	for i, p := range prev {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, string(p))
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE audits SET status = $1 WHERE id = $2 AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update audit status %s", auditID)
	}
	return s.explainNoRowsPG(ctx, tag, auditID)
}

func (s *PostgresStore) SetAuditResult(ctx context.Context, auditID string, update ResultUpdate) error {
	scoreJSON, err := json.Marshal(update.Score)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal geo score")
	}
	failuresJSON, err := json.Marshal(update.Failures)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal failures")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE audits SET status = $1, geo_score = $2, error = NULL, failures = $3, discarded = $4, total_cost = $5, completed_at = $6
		 WHERE id = $7 AND status = $8`,
		string(model.AuditStatusCompleted), scoreJSON, failuresJSON,
		update.Discarded, update.TotalCost, time.Now().UTC(),
		auditID, string(model.AuditStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set audit result %s", auditID)
	}
	return s.explainNoRowsPG(ctx, tag, auditID)
}

func (s *PostgresStore) SetAuditError(ctx context.Context, auditID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audits SET status = $1, error = $2, geo_score = NULL, completed_at = $3
		 WHERE id = $4 AND status IN ($5, $6)`,
		string(model.AuditStatusFailed), errMsg, time.Now().UTC(),
		auditID, string(model.AuditStatusPending), string(model.AuditStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set audit error %s", auditID)
	}
	return s.explainNoRowsPG(ctx, tag, auditID)
}

func (s *PostgresStore) GetAudit(ctx context.Context, auditID string) (*model.AuditRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, brand_name, target_brand, keywords, target_website, competitors, ground_truth,
		 status, geo_score, error, failures, discarded, total_cost, started_at, completed_at
		 FROM audits WHERE id = $1`,
		auditID,
	)
	rec, err := scanAuditPG(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) ListAudits(ctx context.Context, filter ListFilter) ([]model.AuditRecord, int, error) {
	where := ` WHERE true`
	var args []any
	argIdx := 1

	if filter.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Brand != "" {
		where += fmt.Sprintf(` AND brand_name = $%d`, argIdx)
		args = append(args, filter.Brand)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audits`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count audits")
	}

	query := `SELECT id, brand_name, target_brand, keywords, target_website, competitors, ground_truth,
		status, geo_score, error, failures, discarded, total_cost, started_at, completed_at
		FROM audits` + where + ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Skip > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Skip)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list audits")
	}
	defer rows.Close()

	var audits []model.AuditRecord
	for rows.Next() {
		rec, err := scanAuditPG(rows)
		if err != nil {
			return nil, 0, err
		}
		audits = append(audits, *rec)
	}
	return audits, total, eris.Wrap(rows.Err(), "postgres: list audits iterate")
}

func (s *PostgresStore) DeleteAudit(ctx context.Context, auditID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audits WHERE id = $1`, auditID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete audit %s", auditID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.AuditStats, error) {
	var st model.AuditStats
	var avg *float64

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN status = 'completed' THEN (geo_score->>'overall_score')::float END),
			COUNT(DISTINCT brand_name)
		FROM audits`,
	).Scan(&st.TotalAudits, &st.CompletedAudits, &st.FailedAudits, &avg, &st.TotalBrands)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	st.AverageScore = avg
	return &st, nil
}

func (s *PostgresStore) explainNoRowsPG(ctx context.Context, tag pgconn.CommandTag, auditID string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM audits WHERE id = $1`, auditID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "postgres: check audit exists")
	}
	return ErrInvalidTransition
}

func scanAuditPG(row pgx.Row) (*model.AuditRecord, error) {
	var r model.AuditRecord
	var keywordsJSON []byte
	var targetWebsite, errMsg *string
	var competitorsJSON, groundTruthJSON, scoreJSON, failuresJSON []byte
	var completedAt *time.Time

	err := row.Scan(&r.ID, &r.BrandName, &r.TargetBrand, &keywordsJSON, &targetWebsite,
		&competitorsJSON, &groundTruthJSON, &r.Status, &scoreJSON, &errMsg, &failuresJSON,
		&r.Discarded, &r.TotalCost, &r.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(keywordsJSON, &r.Keywords); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal keywords")
	}
	if targetWebsite != nil {
		r.TargetWebsite = *targetWebsite
	}
	if len(competitorsJSON) > 0 {
		if err := json.Unmarshal(competitorsJSON, &r.Competitors); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal competitors")
		}
	}
	if len(groundTruthJSON) > 0 {
		if err := json.Unmarshal(groundTruthJSON, &r.GroundTruth); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal ground truth")
		}
	}
	if len(scoreJSON) > 0 && string(scoreJSON) != "null" {
		r.GeoScore = &model.GeoScore{}
		if err := json.Unmarshal(scoreJSON, r.GeoScore); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal geo score")
		}
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	if len(failuresJSON) > 0 && string(failuresJSON) != "null" {
		if err := json.Unmarshal(failuresJSON, &r.Failures); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal failures")
		}
	}
	r.CompletedAt = completedAt
	return &r, nil
}
