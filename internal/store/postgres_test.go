package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/errs"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewPostgresStore(sqlxDB), mock
}

func TestPostgresStoreCreate(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO jobs").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	job := &domain.Job{
		ID:             "job-1",
		URL:            "https://example.com",
		Method:         domain.MethodGet,
		ScraperVariant: domain.VariantLightHTTP,
		Status:         domain.StatusQueued,
		Config:         domain.DefaultConfig(),
	}
	err := s.Create(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, now, job.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreCreateDuplicateClassifiesAsDuplicateID(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO jobs").
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Message: "duplicate key value violates unique constraint"})

	job := &domain.Job{
		ID:             "job-1",
		URL:            "https://example.com",
		Method:         domain.MethodGet,
		ScraperVariant: domain.VariantLightHTTP,
		Status:         domain.StatusQueued,
		Config:         domain.DefaultConfig(),
	}
	err := s.Create(context.Background(), job)
	require.Error(t, err)

	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.DuplicateID, kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.NotFound, kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreTransitionCASMismatch(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE jobs SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Transition(context.Background(), "job-1", domain.StatusRunning, domain.StatusCompleted)
	assert.ErrorIs(t, err, ErrCASMismatch)

	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.InvalidTransition, kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreBulkAggregate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("QUEUED", 2).
			AddRow("COMPLETED", 1))

	result, err := s.BulkAggregate(context.Background(), "bulk-1")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.CountsByStatus[domain.StatusQueued])
	require.NoError(t, mock.ExpectationsWereMet())
}
