package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
	"github.com/DNYoussef/fog-compute-sub001/pkg/deployment"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	sqlxDB := sqlx.NewDb(db, "pgx")
	return NewPostgresStore(sqlxDB), mock, func() { db.Close() }
}

func TestCreateDeployment_Success(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	d := &deployment.Deployment{
		ID: uuid.New(), Name: "svc", UserID: uuid.New(),
		ContainerImage: "nginx", Status: deployment.StatusPending,
		TargetReplicas: 1, TargetRegion: "us-east",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO deployments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return store.CreateDeployment(context.Background(), tx, d)
	})
	if err != nil {
		t.Fatalf("CreateDeployment() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateDeployment_UniqueViolationIsNameConflict(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	d := &deployment.Deployment{ID: uuid.New(), Name: "dup", UserID: uuid.New(), ContainerImage: "nginx"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO deployments").
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode, Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return store.CreateDeployment(context.Background(), tx, d)
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !appErrors.IsType(err, appErrors.ErrorTypeNameConflict) {
		t.Errorf("expected NameConflict, got %v", appErrors.GetType(err))
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := appErrors.NewValidationError("boom")
	err := store.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return sentinel
	})
	if err != sentinel {
		t.Errorf("expected sentinel error to propagate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAppendStatusHistory(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	h := &deployment.StatusHistory{
		ID: uuid.New(), DeploymentID: uuid.New(),
		OldStatus: deployment.StatusPending, NewStatus: deployment.StatusScheduled,
		ChangedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO deployment_status_history").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return store.AppendStatusHistory(context.Background(), tx, h)
	})
	if err != nil {
		t.Fatalf("AppendStatusHistory() error = %v", err)
	}
}

func TestGetDeployment_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	id := uuid.New()
	mock.ExpectQuery("SELECT \\* FROM deployments WHERE id = \\$1").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetDeployment(context.Background(), id)
	if !appErrors.IsType(err, appErrors.ErrorTypeNotFound) {
		t.Errorf("expected NotFound, got %v", appErrors.GetType(err))
	}
}
