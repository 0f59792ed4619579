package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/geolens/geo-audit/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS audits (
	id             TEXT PRIMARY KEY,
	brand_name     TEXT NOT NULL,
	target_brand   TEXT NOT NULL,
	keywords       TEXT NOT NULL,
	target_website TEXT,
	competitors    TEXT,
	ground_truth   TEXT,
	status         TEXT NOT NULL DEFAULT 'pending',
	geo_score      TEXT,
	error          TEXT,
	failures       TEXT,
	discarded      INTEGER NOT NULL DEFAULT 0,
	total_cost     REAL NOT NULL DEFAULT 0,
	started_at     DATETIME NOT NULL,
	completed_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_audits_status ON audits(status);
CREATE INDEX IF NOT EXISTS idx_audits_brand ON audits(brand_name);
CREATE INDEX IF NOT EXISTS idx_audits_started_at ON audits(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAudit(ctx context.Context, req model.AuditRequest) (*model.AuditRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	keywordsJSON, err := json.Marshal(req.Keywords)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal keywords")
	}
	competitorsJSON, err := json.Marshal(req.Competitors)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal competitors")
	}
	groundTruthJSON, err := json.Marshal(req.GroundTruth)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal ground truth")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audits (id, brand_name, target_brand, keywords, target_website, competitors, ground_truth, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.BrandName, req.TargetBrand, string(keywordsJSON), req.TargetWebsite,
		string(competitorsJSON), string(groundTruthJSON), string(model.AuditStatusPending), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert audit")
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

func (s *SQLiteStore) UpdateAuditStatus(ctx context.Context, auditID string, status model.AuditStatus) error {
	prev := allowedPrev(status)
	if len(prev) == 0 {
		return eris.Wrapf(ErrInvalidTransition, "sqlite: target status %s", status)
	}

	placeholders := make([]string, len(prev))
	args := []any{string(status), auditID}
	for i, p := range prev {
		placeholders[i] = "?"
		args = append(args, string(p))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE audits SET status = ? WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update audit status %s", auditID)
	}
	return s.explainNoRows(ctx, res, auditID)
}

func (s *SQLiteStore) SetAuditResult(ctx context.Context, auditID string, update ResultUpdate) error {
	scoreJSON, err := json.Marshal(update.Score)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal geo score")
	}
	failuresJSON, err := json.Marshal(update.Failures)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal failures")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE audits SET status = ?, geo_score = ?, error = NULL, failures = ?, discarded = ?, total_cost = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.AuditStatusCompleted), string(scoreJSON), string(failuresJSON),
		update.Discarded, update.TotalCost, time.Now().UTC(),
		auditID, string(model.AuditStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set audit result %s", auditID)
	}
	return s.explainNoRows(ctx, res, auditID)
}

func (s *SQLiteStore) SetAuditError(ctx context.Context, auditID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE audits SET status = ?, error = ?, geo_score = NULL, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(model.AuditStatusFailed), errMsg, time.Now().UTC(),
		auditID, string(model.AuditStatusPending), string(model.AuditStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set audit error %s", auditID)
	}
	return s.explainNoRows(ctx, res, auditID)
}

func (s *SQLiteStore) GetAudit(ctx context.Context, auditID string) (*model.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audits WHERE id = ?`, auditID)
	return scanAudit(row)
}

func (s *SQLiteStore) ListAudits(ctx context.Context, filter ListFilter) ([]model.AuditRecord, int, error) {
	where := ` WHERE 1=1`
	var args []any

	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Brand != "" {
		where += ` AND brand_name = ?`
		args = append(args, filter.Brand)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audits`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count audits")
	}

	query := `SELECT ` + auditColumns + ` FROM audits` + where + ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Skip > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list audits")
	}
	defer rows.Close()

	var audits []model.AuditRecord
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, 0, err
		}
		audits = append(audits, *rec)
	}
	return audits, total, eris.Wrap(rows.Err(), "sqlite: list audits iterate")
}

func (s *SQLiteStore) DeleteAudit(ctx context.Context, auditID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audits WHERE id = ?`, auditID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete audit %s", auditID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.AuditStats, error) {
	var st model.AuditStats
	var avg sql.NullFloat64

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN status = 'completed' THEN json_extract(geo_score, '$.overall_score') END),
			COUNT(DISTINCT brand_name)
		FROM audits`,
	).Scan(&st.TotalAudits, &st.CompletedAudits, &st.FailedAudits, &avg, &st.TotalBrands)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	if avg.Valid {
		st.AverageScore = &avg.Float64
	}
	return &st, nil
}

// explainNoRows distinguishes a missing audit from a rejected transition
// after a guarded UPDATE touched zero rows.
func (s *SQLiteStore) explainNoRows(ctx context.Context, res sql.Result, auditID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM audits WHERE id = ?`, auditID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: check audit exists")
	}
	return ErrInvalidTransition
}

// helpers

const auditColumns = `id, brand_name, target_brand, keywords, target_website, competitors, ground_truth,
	status, geo_score, error, failures, discarded, total_cost, started_at, completed_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanAudit(row scannable) (*model.AuditRecord, error) {
	var r model.AuditRecord
	var keywordsJSON string
	var targetWebsite, competitorsJSON, groundTruthJSON, scoreJSON, errMsg, failuresJSON sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.BrandName, &r.TargetBrand, &keywordsJSON, &targetWebsite,
		&competitorsJSON, &groundTruthJSON, &r.Status, &scoreJSON, &errMsg, &failuresJSON,
		&r.Discarded, &r.TotalCost, &r.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan audit")
	}

	if err := json.Unmarshal([]byte(keywordsJSON), &r.Keywords); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal keywords")
	}
	r.TargetWebsite = targetWebsite.String
	if competitorsJSON.Valid && competitorsJSON.String != "" {
		if err := json.Unmarshal([]byte(competitorsJSON.String), &r.Competitors); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal competitors")
		}
	}
	if groundTruthJSON.Valid && groundTruthJSON.String != "" {
		if err := json.Unmarshal([]byte(groundTruthJSON.String), &r.GroundTruth); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal ground truth")
		}
	}
	if scoreJSON.Valid && scoreJSON.String != "" && scoreJSON.String != "null" {
		r.GeoScore = &model.GeoScore{}
		if err := json.Unmarshal([]byte(scoreJSON.String), r.GeoScore); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal geo score")
		}
	}
	r.Error = errMsg.String
	if failuresJSON.Valid && failuresJSON.String != "" && failuresJSON.String != "null" {
		if err := json.Unmarshal([]byte(failuresJSON.String), &r.Failures); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal failures")
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}
