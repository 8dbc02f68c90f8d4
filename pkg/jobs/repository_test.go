package jobs_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/pkg/jobs"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	"github.com/justLukaBB/creditor-email-matcher/pkg/queue"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/rdb"
)

func newTestRepository(t *testing.T) (*jobs.Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	store := rdb.NewWithDB(sqlx.NewDb(db, "postgres"), zap.NewNop())
	return jobs.NewRepository(store, queue.NewStub(), zap.NewNop()), mock
}

func TestCreateInsertsReceivedJob(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO incoming_jobs")).
		WithArgs(sqlmock.AnyArg(), "wh-1", "", "creditor@example.com", "", "", "",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), models.StatusReceived).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job, err := repo.Create(context.Background(), models.IncomingJob{
		WebhookID: "wh-1",
		FromEmail: "creditor@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ProcessingStatus != models.StatusReceived {
		t.Fatalf("expected RECEIVED, got %s", job.ProcessingStatus)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnqueueTransitionsReceivedToQueued(t *testing.T) {
	repo, mock := newTestRepository(t)
	jobID := "job-1"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT processing_status FROM incoming_jobs WHERE id = $1 FOR UPDATE")).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"processing_status"}).AddRow(models.StatusReceived))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE incoming_jobs SET processing_status = $1 WHERE id = $2")).
		WithArgs(models.StatusQueued, jobID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Enqueue(context.Background(), jobID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnqueueRejectsIllegalTransition(t *testing.T) {
	repo, mock := newTestRepository(t)
	jobID := "job-2"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT processing_status FROM incoming_jobs WHERE id = $1 FOR UPDATE")).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"processing_status"}).AddRow(models.StatusCompleted))
	mock.ExpectRollback()

	err := repo.Enqueue(context.Background(), jobID)
	if !errors.Is(err, jobs.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// fakeUniqueViolation duck-types the pq driver's error shape (a Code()
// string method) without importing lib/pq, exercising the same detection
// path apperrors.IsUniqueViolation uses against a real driver error.
type fakeUniqueViolation struct{}

func (fakeUniqueViolation) Error() string { return "duplicate key value violates unique constraint" }
func (fakeUniqueViolation) Code() string  { return "23505" }

func TestCreateReturnsExistingRowOnDuplicateWebhookDelivery(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO incoming_jobs")).
		WithArgs(sqlmock.AnyArg(), "wh-dup", "", "creditor@example.com", "", "", "",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), models.StatusReceived).
		WillReturnError(fakeUniqueViolation{})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM incoming_jobs WHERE webhook_id = $1")).
		WithArgs("wh-dup").
		WillReturnRows(sqlmock.NewRows([]string{"id", "webhook_id", "processing_status"}).
			AddRow("existing-job", "wh-dup", models.StatusQueued))

	job, err := repo.Create(context.Background(), models.IncomingJob{
		WebhookID: "wh-dup",
		FromEmail: "creditor@example.com",
	})
	if !errors.Is(err, jobs.ErrDuplicateWebhookDelivery) {
		t.Fatalf("expected ErrDuplicateWebhookDelivery, got %v", err)
	}
	if job == nil || job.ID != "existing-job" {
		t.Fatalf("expected the existing row to be returned, got %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimByIDMarksJobProcessing(t *testing.T) {
	repo, mock := newTestRepository(t)
	jobID := "job-4"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM incoming_jobs WHERE id = $1 AND processing_status = $2")).
		WithArgs(jobID, models.StatusQueued).
		WillReturnRows(sqlmock.NewRows([]string{"id", "processing_status"}).AddRow(jobID, models.StatusQueued))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE incoming_jobs SET processing_status = $1, started_at = $2, worker_token = $3 WHERE id = $4")).
		WithArgs(models.StatusProcessing, sqlmock.AnyArg(), "worker-a", jobID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	claimed, err := repo.ClaimByID(context.Background(), jobID, "worker-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed == nil || claimed.ProcessingStatus != models.StatusProcessing {
		t.Fatalf("expected claimed job marked PROCESSING, got %+v", claimed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimByIDReturnsNilWhenAlreadyClaimed(t *testing.T) {
	repo, mock := newTestRepository(t)
	jobID := "job-5"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM incoming_jobs WHERE id = $1 AND processing_status = $2")).
		WithArgs(jobID, models.StatusQueued).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	claimed, err := repo.ClaimByID(context.Background(), jobID, "worker-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected nil claim, got %+v", claimed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestManualRetryTransitionsFailedToQueued(t *testing.T) {
	repo, mock := newTestRepository(t)
	jobID := "job-3"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT processing_status FROM incoming_jobs WHERE id = $1 FOR UPDATE")).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"processing_status"}).AddRow(models.StatusFailed))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE incoming_jobs SET processing_status = $1, processing_error = '', started_at = NULL, completed_at = NULL, retry_count = retry_count + 1")).
		WithArgs(models.StatusQueued, jobID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.ManualRetry(context.Background(), jobID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
