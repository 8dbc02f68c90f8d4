package outbox_test

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/pkg/outbox"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/doc"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/rdb"
)

// fakeDocClient is a hand-rolled doc.Client double: the interface is tiny
// and the cases below need full control over Get's ok/err split.
type fakeDocClient struct {
	getBody  []byte
	getOK    bool
	getErr   error
	applyErr error
	applied  []doc.Effect
}

func (f *fakeDocClient) Apply(_ context.Context, effect doc.Effect) ([]byte, error) {
	f.applied = append(f.applied, effect)
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	return []byte(`{}`), nil
}

func (f *fakeDocClient) Get(_ context.Context, _, _ string) ([]byte, bool, error) {
	return f.getBody, f.getOK, f.getErr
}

func newTestStore(t *testing.T, docClient doc.Client) (*outbox.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	store := rdb.NewWithDB(sqlx.NewDb(db, "postgres"), zap.NewNop())
	return outbox.NewStore(store, docClient, zap.NewNop()), mock
}

func TestReconcileWithNothingToDoStillRunsCleanupAndPersistsReport(t *testing.T) {
	doc := &fakeDocClient{}
	store, mock := newTestStore(t, doc)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM outbox_messages WHERE status = $1 AND created_at >= $2")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM incoming_jobs")).
		WillReturnRows(sqlmock.NewRows([]string{"ticket_id", "client_name", "creditor_name", "final_amount"}))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM idempotency_records WHERE expires_at < $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbox_messages WHERE status IN ($1, $2) AND created_at < $3")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reconciliation_reports")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := store.Reconcile(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != "completed" {
		t.Fatalf("expected status completed, got %s", report.Status)
	}
	if report.MismatchesFound != 0 || report.AutoRepaired != 0 || report.FailedRepairs != 0 {
		t.Fatalf("expected a clean report, got %+v", report)
	}
	if len(doc.applied) != 0 {
		t.Fatalf("expected no doc effects applied, got %d", len(doc.applied))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReconcileRepairsDriftedDebtRecord(t *testing.T) {
	driftedBody, _ := json.Marshal(doc.DebtRecord{TicketID: "t-1", ClientName: "Alice", CreditorName: "Creditco", Amount: "999.99"})
	fake := &fakeDocClient{getBody: driftedBody, getOK: true}
	store, mock := newTestStore(t, fake)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM outbox_messages WHERE status = $1 AND created_at >= $2")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM incoming_jobs")).
		WillReturnRows(sqlmock.NewRows([]string{"ticket_id", "client_name", "creditor_name", "final_amount"}).
			AddRow("t-1", "Alice", "Creditco", "100.00"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM idempotency_records WHERE expires_at < $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbox_messages WHERE status IN ($1, $2) AND created_at < $3")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reconciliation_reports")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := store.Reconcile(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.MismatchesFound != 1 || report.AutoRepaired != 1 {
		t.Fatalf("expected one mismatch auto-repaired, got %+v", report)
	}
	if len(fake.applied) != 1 || fake.applied[0].AggregateID != "t-1" {
		t.Fatalf("expected a repair effect applied for t-1, got %+v", fake.applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
