package events

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("lead-1", "corr-1").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	processed, err := store.AlreadyProcessed(context.Background(), "lead-1", "corr-1")
	if err != nil || !processed {
		t.Fatalf("expected existing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("lead-1", "corr-miss").WillReturnError(pgx.ErrNoRows)
	processed, err = store.AlreadyProcessed(context.Background(), "lead-1", "corr-miss")
	if err != nil || processed {
		t.Fatalf("expected missing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("lead-1", "corr-err").WillReturnError(errors.New("boom"))
	if _, err := store.AlreadyProcessed(context.Background(), "lead-1", "corr-err"); err == nil {
		t.Fatalf("expected error")
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("lead-1", "corr-new", "replied").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.MarkProcessed(context.Background(), "lead-1", "corr-new", "replied")
	if err != nil || !ok {
		t.Fatalf("expected mark processed success, got %v %v", ok, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("lead-1", "corr-new", "replied").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	ok, err = store.MarkProcessed(context.Background(), "lead-1", "corr-new", "replied")
	if err != nil || ok {
		t.Fatalf("expected duplicate mark to report false, got %v %v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMemoryProcessedStore(t *testing.T) {
	store := NewMemoryProcessedStore()
	ctx := context.Background()

	if ok, _ := store.AlreadyProcessed(ctx, "lead-1", "c1"); ok {
		t.Fatalf("expected unseen")
	}
	if ok, _ := store.MarkProcessed(ctx, "lead-1", "c1", "replied"); !ok {
		t.Fatalf("expected first mark to succeed")
	}
	if ok, _ := store.MarkProcessed(ctx, "lead-1", "c1", "replied"); ok {
		t.Fatalf("expected second mark to report duplicate")
	}
	if ok, _ := store.AlreadyProcessed(ctx, "lead-2", "c1"); ok {
		t.Fatalf("correlation ids are scoped per lead")
	}
}
