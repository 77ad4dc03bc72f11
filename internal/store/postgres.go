package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/errs"
)

// pqUniqueViolation is the PostgreSQL SQLSTATE for a unique-constraint
// violation. See https://www.postgresql.org/docs/current/errcodes-appendix.html.
const pqUniqueViolation = "23505"

const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultPingTimeout     = 5 * time.Second
)

// ConnConfig holds PostgreSQL connection parameters.
type ConnConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewPostgresConnection opens and verifies a PostgreSQL connection pool.
func NewPostgresConnection(ctx context.Context, cfg ConnConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	return db, nil
}

// jobInsertColumns lists columns for job INSERT operations. Headers, params,
// config, and tags are stored as jsonb since domain.Job keeps them as
// in-memory maps/slices rather than normalized columns.
const jobInsertColumns = `id, url, method, headers_json, params_json, body,
	scraper_variant, config_json, tags_json, priority, status,
	max_retries, callback_url, bulk_id`

const jobSelectColumns = `id, url, method, headers_json, params_json, body,
	scraper_variant, config_json, tags_json, priority, status, progress,
	progress_message, retry_count, max_retries, created_at, started_at,
	completed_at, error_message, callback_url, cancel_requested, bulk_id`

// jobRow is the sqlx scan target: JSON-valued columns land as []byte here
// and are unmarshaled into the richer domain.Job by scanJob.
type jobRow struct {
	ID              string     `db:"id"`
	URL             string     `db:"url"`
	Method          string     `db:"method"`
	HeadersJSON     []byte     `db:"headers_json"`
	ParamsJSON      []byte     `db:"params_json"`
	Body            []byte     `db:"body"`
	ScraperVariant  string     `db:"scraper_variant"`
	ConfigJSON      []byte     `db:"config_json"`
	TagsJSON        []byte     `db:"tags_json"`
	Priority        int        `db:"priority"`
	Status          string     `db:"status"`
	Progress        int        `db:"progress"`
	ProgressMessage string     `db:"progress_message"`
	RetryCount      int        `db:"retry_count"`
	MaxRetries      int        `db:"max_retries"`
	CreatedAt       time.Time  `db:"created_at"`
	StartedAt       *time.Time `db:"started_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	ErrorMessage    string     `db:"error_message"`
	CallbackURL     string     `db:"callback_url"`
	CancelRequested bool       `db:"cancel_requested"`
	BulkID          string     `db:"bulk_id"`
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID:              r.ID,
		URL:             r.URL,
		Method:          domain.Method(r.Method),
		Body:            r.Body,
		ScraperVariant:  domain.ScraperVariant(r.ScraperVariant),
		Priority:        r.Priority,
		Status:          domain.Status(r.Status),
		Progress:        r.Progress,
		ProgressMsg:     r.ProgressMessage,
		RetryCount:      r.RetryCount,
		MaxRetries:      r.MaxRetries,
		CreatedAt:       r.CreatedAt,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		ErrorMessage:    r.ErrorMessage,
		CallbackURL:     r.CallbackURL,
		CancelRequested: r.CancelRequested,
		BulkID:          r.BulkID,
	}
	if len(r.HeadersJSON) > 0 {
		if err := json.Unmarshal(r.HeadersJSON, &job.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	if len(r.ParamsJSON) > 0 {
		if err := json.Unmarshal(r.ParamsJSON, &job.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if len(r.ConfigJSON) > 0 {
		if err := json.Unmarshal(r.ConfigJSON, &job.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if len(r.TagsJSON) > 0 {
		if err := json.Unmarshal(r.TagsJSON, &job.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return job, nil
}

// PostgresStore is the production Store backed by sqlx/lib/pq.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-connected *sqlx.DB.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func marshalOrEmpty(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (s *PostgresStore) Create(ctx context.Context, job *domain.Job) error {
	headersJSON, err := marshalOrEmpty(job.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	paramsJSON, err := marshalOrEmpty(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tagsJSON, err := marshalOrEmpty(job.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query := `INSERT INTO jobs (` + jobInsertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at`

	err = s.db.QueryRowContext(
		ctx, query,
		job.ID, job.URL, string(job.Method), headersJSON, paramsJSON, job.Body,
		string(job.ScraperVariant), configJSON, tagsJSON, job.Priority, string(job.Status),
		job.MaxRetries, job.CallbackURL, job.BulkID,
	).Scan(&job.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return errs.New(errs.DuplicateID, fmt.Errorf("job %s already exists: %w", job.ID, err))
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

func (s *PostgresStore) List(ctx context.Context, req domain.JobSearchRequest) (*domain.PageResult, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if len(req.Statuses) > 0 {
		placeholders := make([]string, len(req.Statuses))
		for i, st := range req.Statuses {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, string(st))
			argIdx++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if len(req.ScraperVariants) > 0 {
		placeholders := make([]string, len(req.ScraperVariants))
		for i, v := range req.ScraperVariants {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, string(v))
			argIdx++
		}
		conditions = append(conditions, fmt.Sprintf("scraper_variant IN (%s)", strings.Join(placeholders, ", ")))
	}

	if req.Query != "" {
		conditions = append(conditions, fmt.Sprintf("(id ILIKE $%d OR url ILIKE $%d)", argIdx, argIdx))
		args = append(args, "%"+req.Query+"%")
		argIdx++
	}

	if req.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *req.DateFrom)
		argIdx++
	}
	if req.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *req.DateTo)
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM jobs %s", whereClause)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	sortBy := string(req.SortBy)
	sortOrder := strings.ToUpper(string(req.SortOrder))
	offset := (req.Page - 1) * req.PageSize

	query := fmt.Sprintf(`SELECT %s FROM jobs %s ORDER BY %s %s NULLS LAST LIMIT $%d OFFSET $%d`,
		jobSelectColumns, whereClause, sortBy, sortOrder, argIdx, argIdx+1)
	listArgs := append(append([]any{}, args...), req.PageSize, offset)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, listArgs...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	totalPages := (total + req.PageSize - 1) / req.PageSize
	return &domain.PageResult{
		Jobs:       jobs,
		Total:      total,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: totalPages,
		HasNext:    req.Page < totalPages,
		HasPrev:    req.Page > 1,
	}, nil
}

func execRequireRows(result sql.Result, err error, notFoundErr error) error {
	if err != nil {
		return err
	}
	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, expectedFrom, to domain.Status) error {
	query := `UPDATE jobs SET status = $1, started_at = CASE WHEN $1 = 'RUNNING' THEN NOW() ELSE started_at END,
		completed_at = CASE WHEN $1 IN ('CANCELLED') THEN NOW() ELSE completed_at END
		WHERE id = $2 AND status = $3`
	result, err := s.db.ExecContext(ctx, query, string(to), id, string(expectedFrom))
	return execRequireRows(result, err, ErrCASMismatch)
}

func (s *PostgresStore) AttachResult(ctx context.Context, id string, result *domain.JobResult) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	updateQuery := `UPDATE jobs SET status = 'COMPLETED', progress = 100, completed_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'`
	res, err := tx.ExecContext(ctx, updateQuery, id)
	if err := execRequireRows(res, err, ErrCASMismatch); err != nil {
		return err
	}

	headersJSON, err := marshalOrEmpty(result.Headers)
	if err != nil {
		return fmt.Errorf("marshal result headers: %w", err)
	}

	insertQuery := `INSERT INTO job_results (job_id, status_code, response_time_ms, content_length,
		content_type, headers_json, content, extracted_text, final_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			status_code = EXCLUDED.status_code,
			response_time_ms = EXCLUDED.response_time_ms,
			content_length = EXCLUDED.content_length,
			content_type = EXCLUDED.content_type,
			headers_json = EXCLUDED.headers_json,
			content = EXCLUDED.content,
			extracted_text = EXCLUDED.extracted_text,
			final_url = EXCLUDED.final_url`
	if _, err := tx.ExecContext(ctx, insertQuery,
		id, result.StatusCode, result.ResponseTimeMs, result.ContentLength,
		result.ContentType, headersJSON, result.Content, result.Text, result.FinalURL,
	); err != nil {
		return fmt.Errorf("failed to store job result: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) Fail(ctx context.Context, id string, errMsg string) error {
	query := `UPDATE jobs SET status = 'FAILED', error_message = $1, completed_at = NOW()
		WHERE id = $2 AND status = 'RUNNING'`
	result, err := s.db.ExecContext(ctx, query, errMsg, id)
	return execRequireRows(result, err, ErrCASMismatch)
}

func (s *PostgresStore) SetProgress(ctx context.Context, id string, progress int, message string) error {
	query := `UPDATE jobs SET progress = $1, progress_message = $2
		WHERE id = $3 AND status = 'RUNNING'`
	result, err := s.db.ExecContext(ctx, query, progress, message, id)
	return execRequireRows(result, err, ErrCASMismatch)
}

func (s *PostgresStore) IncrementRetry(ctx context.Context, id string) (*domain.Job, error) {
	query := `UPDATE jobs SET retry_count = retry_count + 1, status = 'QUEUED', started_at = NULL
		WHERE id = $1 RETURNING ` + jobSelectColumns
	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to increment retry: %w", err)
	}
	return row.toDomain()
}

func (s *PostgresStore) MarkCancelRequested(ctx context.Context, id string) error {
	query := `UPDATE jobs SET cancel_requested = true WHERE id = $1 AND status IN ('QUEUED', 'RUNNING')`
	result, err := s.db.ExecContext(ctx, query, id)
	return execRequireRows(result, err, ErrCASMismatch)
}

// RequeueOrphans recovers jobs left RUNNING by a worker process that died
// without reaching a terminal state. It is called once at startup, before
// the worker pool accepts new dequeues.
func (s *PostgresStore) RequeueOrphans(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error) {
	query := `UPDATE jobs SET status = 'QUEUED', started_at = NULL, retry_count = retry_count + 1
		WHERE status = 'RUNNING' AND started_at < $1
		RETURNING ` + jobSelectColumns
	cutoff := time.Now().Add(-olderThan)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to requeue orphans: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *PostgresStore) BulkAggregate(ctx context.Context, bulkID string) (*domain.BulkStatusResult, error) {
	query := `SELECT status, COUNT(*) FROM jobs WHERE bulk_id = $1 GROUP BY status`
	rows, err := s.db.QueryContext(ctx, query, bulkID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate bulk status: %w", err)
	}
	defer rows.Close()

	result := &domain.BulkStatusResult{
		BulkID:         bulkID,
		CountsByStatus: make(map[domain.Status]int),
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan bulk aggregate row: %w", err)
		}
		result.CountsByStatus[domain.Status(status)] = count
		result.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
