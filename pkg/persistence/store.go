// Package persistence is the Persistence port (C1): transactional storage
// of deployments, replicas, resource envelopes, status history, and reward
// distribution audit rows.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
	"github.com/DNYoussef/fog-compute-sub001/pkg/deployment"
)

// uniqueViolationCode is Postgres's SQLSTATE for a unique constraint
// violation, used to translate the partial-unique-index failure (D1) into
// a NameConflict.
const uniqueViolationCode = "23505"

// ListFilter narrows a deployment listing.
type ListFilter struct {
	Status         deployment.Status
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// Store is the Persistence port.
type Store interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error

	CreateDeployment(ctx context.Context, tx *sqlx.Tx, d *deployment.Deployment) error
	GetDeployment(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error)
	GetDeploymentForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*deployment.Deployment, error)
	ListDeployments(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]deployment.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, newStatus deployment.Status, targetReplicas *int) error
	SoftDeleteDeployment(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error

	UpsertResource(ctx context.Context, tx *sqlx.Tx, r *deployment.Resource) error
	GetResource(ctx context.Context, deploymentID uuid.UUID) (*deployment.Resource, error)

	CreateReplica(ctx context.Context, tx *sqlx.Tx, r *deployment.Replica) error
	UpdateReplica(ctx context.Context, tx *sqlx.Tx, r *deployment.Replica) error
	ListReplicas(ctx context.Context, deploymentID uuid.UUID) ([]deployment.Replica, error)

	AppendStatusHistory(ctx context.Context, tx *sqlx.Tx, h *deployment.StatusHistory) error
	ListStatusHistory(ctx context.Context, deploymentID uuid.UUID, limit int) ([]deployment.StatusHistory, error)
}

// PostgresStore is the sqlx-backed Store implementation.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-connected *sqlx.DB.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.NewPersistenceError("failed to begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return appErrors.NewPersistenceError("failed to commit transaction", err)
	}
	return nil
}

// CreateDeployment inserts a new deployment row, translating a partial
// unique index violation into NameConflict (D1).
func (s *PostgresStore) CreateDeployment(ctx context.Context, tx *sqlx.Tx, d *deployment.Deployment) error {
	const q = `
		INSERT INTO deployments
			(id, name, user_id, container_image, status, target_replicas, target_region, created_at, updated_at)
		VALUES
			(:id, :name, :user_id, :container_image, :status, :target_replicas, :target_region, :created_at, :updated_at)`
	_, err := tx.NamedExecContext(ctx, q, d)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return appErrors.NewNameConflictError(d.Name)
		}
		return appErrors.NewPersistenceError("failed to create deployment", err)
	}
	return nil
}

// GetDeployment reads a deployment by id (including soft-deleted rows).
func (s *PostgresStore) GetDeployment(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error) {
	var d deployment.Deployment
	const q = `SELECT * FROM deployments WHERE id = $1`
	if err := s.db.GetContext(ctx, &d, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFoundError("deployment")
		}
		return nil, appErrors.NewPersistenceError("failed to get deployment", err)
	}
	return &d, nil
}

// GetDeploymentForUpdate reads a deployment row with FOR UPDATE locking,
// required before any read-then-write status transition (spec §5).
func (s *PostgresStore) GetDeploymentForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*deployment.Deployment, error) {
	var d deployment.Deployment
	const q = `SELECT * FROM deployments WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &d, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFoundError("deployment")
		}
		return nil, appErrors.NewPersistenceError("failed to get deployment for update", err)
	}
	return &d, nil
}

// ListDeployments lists a user's deployments, newest first.
func (s *PostgresStore) ListDeployments(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]deployment.Deployment, error) {
	query := `SELECT * FROM deployments WHERE user_id = $1`
	args := []interface{}{userID}

	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	var rows []deployment.Deployment
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, appErrors.NewPersistenceError("failed to list deployments", err)
	}
	return rows, nil
}

// UpdateDeploymentStatus transitions a deployment's status (and optionally
// its target_replicas) and bumps updated_at.
func (s *PostgresStore) UpdateDeploymentStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, newStatus deployment.Status, targetReplicas *int) error {
	if targetReplicas != nil {
		const q = `UPDATE deployments SET status = $1, target_replicas = $2, updated_at = $3 WHERE id = $4`
		if _, err := tx.ExecContext(ctx, q, newStatus, *targetReplicas, time.Now(), id); err != nil {
			return appErrors.NewPersistenceError("failed to update deployment status", err)
		}
		return nil
	}
	const q = `UPDATE deployments SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, q, newStatus, time.Now(), id); err != nil {
		return appErrors.NewPersistenceError("failed to update deployment status", err)
	}
	return nil
}

// SoftDeleteDeployment sets deleted_at and status=DELETED in one statement.
func (s *PostgresStore) SoftDeleteDeployment(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	now := time.Now()
	const q = `UPDATE deployments SET status = $1, deleted_at = $2, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, q, deployment.StatusDeleted, now, id); err != nil {
		return appErrors.NewPersistenceError("failed to soft-delete deployment", err)
	}
	return nil
}

// UpsertResource writes the single resource row owned by a deployment (D4).
func (s *PostgresStore) UpsertResource(ctx context.Context, tx *sqlx.Tx, r *deployment.Resource) error {
	const q = `
		INSERT INTO deployment_resources (deployment_id, cpu_cores, memory_mb, gpu_units, storage_gb)
		VALUES (:deployment_id, :cpu_cores, :memory_mb, :gpu_units, :storage_gb)
		ON CONFLICT (deployment_id) DO UPDATE SET
			cpu_cores = EXCLUDED.cpu_cores,
			memory_mb = EXCLUDED.memory_mb,
			gpu_units = EXCLUDED.gpu_units,
			storage_gb = EXCLUDED.storage_gb`
	if _, err := tx.NamedExecContext(ctx, q, r); err != nil {
		return appErrors.NewPersistenceError("failed to upsert resource envelope", err)
	}
	return nil
}

// GetResource reads a deployment's resource envelope.
func (s *PostgresStore) GetResource(ctx context.Context, deploymentID uuid.UUID) (*deployment.Resource, error) {
	var r deployment.Resource
	const q = `SELECT * FROM deployment_resources WHERE deployment_id = $1`
	if err := s.db.GetContext(ctx, &r, q, deploymentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFoundError("deployment resource")
		}
		return nil, appErrors.NewPersistenceError("failed to get resource envelope", err)
	}
	return &r, nil
}

// CreateReplica inserts a new replica row.
func (s *PostgresStore) CreateReplica(ctx context.Context, tx *sqlx.Tx, r *deployment.Replica) error {
	const q = `
		INSERT INTO deployment_replicas
			(id, deployment_id, node_id, status, container_id, started_at, stopped_at, created_at, updated_at)
		VALUES
			(:id, :deployment_id, :node_id, :status, :container_id, :started_at, :stopped_at, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, q, r); err != nil {
		return appErrors.NewPersistenceError("failed to create replica", err)
	}
	return nil
}

// UpdateReplica persists a replica's mutable fields (status, container_id,
// started_at, stopped_at).
func (s *PostgresStore) UpdateReplica(ctx context.Context, tx *sqlx.Tx, r *deployment.Replica) error {
	const q = `
		UPDATE deployment_replicas SET
			status = :status, container_id = :container_id,
			started_at = :started_at, stopped_at = :stopped_at, updated_at = :updated_at
		WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, q, r); err != nil {
		return appErrors.NewPersistenceError("failed to update replica", err)
	}
	return nil
}

// ListReplicas returns every replica of a deployment, oldest first
// (scale-down victim selection relies on this ordering).
func (s *PostgresStore) ListReplicas(ctx context.Context, deploymentID uuid.UUID) ([]deployment.Replica, error) {
	var rows []deployment.Replica
	const q = `SELECT * FROM deployment_replicas WHERE deployment_id = $1 ORDER BY created_at ASC, id ASC`
	if err := s.db.SelectContext(ctx, &rows, q, deploymentID); err != nil {
		return nil, appErrors.NewPersistenceError("failed to list replicas", err)
	}
	return rows, nil
}

// AppendStatusHistory inserts one audit row. The table has no UPDATE/DELETE
// path anywhere in this package (H1).
func (s *PostgresStore) AppendStatusHistory(ctx context.Context, tx *sqlx.Tx, h *deployment.StatusHistory) error {
	const q = `
		INSERT INTO deployment_status_history
			(id, deployment_id, old_status, new_status, changed_by, changed_at, reason)
		VALUES
			(:id, :deployment_id, :old_status, :new_status, :changed_by, :changed_at, :reason)`
	if _, err := tx.NamedExecContext(ctx, q, h); err != nil {
		return appErrors.NewPersistenceError("failed to append status history", err)
	}
	return nil
}

// ListStatusHistory returns a deployment's history rows, most recent first.
func (s *PostgresStore) ListStatusHistory(ctx context.Context, deploymentID uuid.UUID, limit int) ([]deployment.StatusHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []deployment.StatusHistory
	const q = `SELECT * FROM deployment_status_history WHERE deployment_id = $1 ORDER BY changed_at DESC LIMIT $2`
	if err := s.db.SelectContext(ctx, &rows, q, deploymentID, limit); err != nil {
		return nil, appErrors.NewPersistenceError("failed to list status history", err)
	}
	return rows, nil
}

