// Package controller implements the DeploymentController (C6): the four
// user-facing operations (Create, Scale, Delete, Get/List) that validate
// input, enforce quota, and delegate to the scheduler, runtime, and
// settlement ports.
package controller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/DNYoussef/fog-compute-sub001/internal/config"
	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
	"github.com/DNYoussef/fog-compute-sub001/internal/validation"
	"github.com/DNYoussef/fog-compute-sub001/pkg/deployment"
	"github.com/DNYoussef/fog-compute-sub001/pkg/persistence"
	"github.com/DNYoussef/fog-compute-sub001/pkg/runtime"
	"github.com/DNYoussef/fog-compute-sub001/pkg/scheduler"
	sharedlogging "github.com/DNYoussef/fog-compute-sub001/pkg/shared/logging"
)

// Settlement is the slice of RewardSettlement the controller needs: gate
// deletion on a successful reward distribution (spec §4.5 Delete).
type Settlement interface {
	CleanupWithDistribution(ctx context.Context, deploymentID, userID uuid.UUID) SettlementOutcome
}

// SettlementOutcome is the subset of rewards.CleanupResult the controller
// reads. Kept as its own type instead of importing pkg/rewards directly,
// so a caller can satisfy Settlement with an adapter around the concrete
// settlement pipeline without this package needing its audit/metrics
// dependencies.
type SettlementOutcome struct {
	Success bool
	Error   error
}

// Hooks is the pair of cache-invalidation callbacks fired after a
// deployment is created or deleted (spec §9). A caller that doesn't wire
// an external cache may pass a no-op implementation.
type Hooks interface {
	OnDeploymentCreated(ctx context.Context, deploymentID uuid.UUID)
	OnDeploymentDeleted(ctx context.Context, deploymentID uuid.UUID)
}

// Controller is the DeploymentController (C6).
type Controller struct {
	store      persistence.Store
	scheduler  *scheduler.Scheduler
	runtime    runtime.Runtime
	settlement Settlement
	quota      *QuotaPolicy
	hooks      Hooks
	bounds     config.ResourceBounds
	validate   *validator.Validate
	logger     *logrus.Logger
}

// New builds a Controller.
func New(store persistence.Store, sched *scheduler.Scheduler, rt runtime.Runtime, settlement Settlement, quota *QuotaPolicy, hooks Hooks, bounds config.ResourceBounds, logger *logrus.Logger) *Controller {
	return &Controller{
		store:      store,
		scheduler:  sched,
		runtime:    rt,
		settlement: settlement,
		quota:      quota,
		hooks:      hooks,
		bounds:     bounds,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Create validates req, persists the deployment and its resource envelope
// as PENDING, and enqueues placement (spec §4.5).
func (c *Controller) Create(ctx context.Context, req deployment.CreateRequest) (*deployment.Deployment, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "create request failed structural validation")
	}
	if err := validation.ValidateDeploymentName(req.Name); err != nil {
		return nil, err
	}
	if err := validation.ValidateContainerImage(req.ContainerImage); err != nil {
		return nil, err
	}
	if err := validation.ValidateReplicaCount(req.TargetReplicas, c.bounds.MaxReplicasInitial); err != nil {
		return nil, err
	}
	if err := validation.ValidateResourceEnvelope(req.CPUCores, req.MemoryMB, req.GPUUnits, req.StorageGB, validation.ResourceBounds{
		MinCPUCores: c.bounds.MinCPUCores, MaxCPUCores: c.bounds.MaxCPUCores,
		MinMemoryMB: c.bounds.MinMemoryMB, MaxMemoryMB: c.bounds.MaxMemoryMB,
	}); err != nil {
		return nil, err
	}

	quotaInput := EnvelopeInput("create", req.TargetReplicas, req.CPUCores, req.MemoryMB, c.bounds)
	if err := c.quota.Evaluate(ctx, quotaInput); err != nil {
		return nil, err
	}

	d := &deployment.Deployment{
		ID:             uuid.New(),
		Name:           req.Name,
		UserID:         req.UserID,
		ContainerImage: req.ContainerImage,
		Status:         deployment.StatusPending,
		TargetReplicas: req.TargetReplicas,
		TargetRegion:   req.TargetRegion,
	}
	resource := &deployment.Resource{
		DeploymentID: d.ID,
		CPUCores:     req.CPUCores,
		MemoryMB:     req.MemoryMB,
		GPUUnits:     req.GPUUnits,
		StorageGB:    req.StorageGB,
	}

	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := c.store.CreateDeployment(ctx, tx, d); err != nil {
			return err
		}
		return c.store.UpsertResource(ctx, tx, resource)
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(sharedlogging.SchedulerFields("create", d.ID.String()).ToLogrus()).Info("deployment created, queueing placement")

	if _, err := c.scheduler.Enqueue(scheduler.Task{
		DeploymentID:   d.ID,
		TargetReplicas: d.TargetReplicas,
		CPUCores:       resource.CPUCores,
		MemoryMB:       resource.MemoryMB,
		GPUUnits:       resource.GPUUnits,
		StorageGB:      resource.StorageGB,
		TargetRegion:   d.TargetRegion,
		ContainerImage: d.ContainerImage,
	}); err != nil {
		return d, err
	}

	c.hooks.OnDeploymentCreated(ctx, d.ID)
	return d, nil
}

// Scale validates and applies a new target replica count (spec §4.5).
// Scale-up delegates additional placement to the scheduler; scale-down
// picks victims deterministically and stops them through the runtime.
func (c *Controller) Scale(ctx context.Context, deploymentID uuid.UUID, newTarget int) error {
	d, err := c.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d == nil {
		return appErrors.NewNotFoundError("deployment")
	}
	if d.Status != deployment.StatusScheduled && d.Status != deployment.StatusRunning {
		return appErrors.NewInvalidStateTransitionError(string(d.Status), "scaled", "deployment")
	}
	if err := validation.ValidateReplicaCount(newTarget, c.bounds.MaxReplicasScale); err != nil {
		return err
	}

	oldTarget := d.TargetReplicas
	resource, err := c.store.GetResource(ctx, deploymentID)
	if err != nil {
		return err
	}

	quotaInput := EnvelopeInput("scale", newTarget, resource.CPUCores, resource.MemoryMB, c.bounds)
	if err := c.quota.Evaluate(ctx, quotaInput); err != nil {
		return err
	}

	switch {
	case newTarget > oldTarget:
		if err := c.scaleUp(ctx, d, resource, newTarget-oldTarget); err != nil {
			return err
		}
	case newTarget < oldTarget:
		if err := c.scaleDown(ctx, deploymentID, oldTarget-newTarget); err != nil {
			return err
		}
	}

	reason := sprintfScaleReason(oldTarget, newTarget)
	return c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		target := newTarget
		if err := c.store.UpdateDeploymentStatus(ctx, tx, deploymentID, d.Status, &target); err != nil {
			return err
		}
		return c.store.AppendStatusHistory(ctx, tx, &deployment.StatusHistory{
			ID: uuid.New(), DeploymentID: deploymentID, OldStatus: d.Status, NewStatus: d.Status,
			ChangedAt: time.Now(), Reason: &reason,
		})
	})
}

func sprintfScaleReason(from, to int) string {
	return fmt.Sprintf("scaled from %d to %d", from, to)
}

func (c *Controller) scaleUp(ctx context.Context, d *deployment.Deployment, resource *deployment.Resource, additional int) error {
	_, err := c.scheduler.Enqueue(scheduler.Task{
		DeploymentID:   d.ID,
		TargetReplicas: additional,
		CPUCores:       resource.CPUCores,
		MemoryMB:       resource.MemoryMB,
		GPUUnits:       resource.GPUUnits,
		StorageGB:      resource.StorageGB,
		TargetRegion:   d.TargetRegion,
		ContainerImage: d.ContainerImage,
	})
	return err
}

// scaleDown picks victims deterministically (lowest created_at, then id)
// and drives each through StopAndRemove (spec §4.5, §4.7).
func (c *Controller) scaleDown(ctx context.Context, deploymentID uuid.UUID, count int) error {
	replicas, err := c.store.ListReplicas(ctx, deploymentID)
	if err != nil {
		return err
	}

	var candidates []deployment.Replica
	for _, r := range replicas {
		if r.Status == deployment.ReplicaRunning || r.Status == deployment.ReplicaStarting {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID.String() < candidates[j].ID.String()
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	if count > len(candidates) {
		count = len(candidates)
	}
	for i := 0; i < count; i++ {
		if err := c.stopAndRemove(ctx, &candidates[i]); err != nil {
			c.logger.WithFields(sharedlogging.ReplicaFields("scale_down_stop", candidates[i].ID.String()).Error(err).ToLogrus()).
				Warn("failed to stop victim replica during scale-down")
		}
	}
	return nil
}

// stopAndRemove implements the per-replica StopAndRemove sequence (spec
// §4.7): STOPPING is flushed before the runtime calls, and runtime errors
// are swallowed so deletion/scale-down never blocks on a flaky daemon.
func (c *Controller) stopAndRemove(ctx context.Context, r *deployment.Replica) error {
	r.Status = deployment.ReplicaStopping
	if err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return c.store.UpdateReplica(ctx, tx, r)
	}); err != nil {
		return err
	}

	if r.ContainerID != nil {
		if err := c.runtime.Stop(ctx, *r.ContainerID); err != nil {
			c.logger.WithFields(sharedlogging.ReplicaFields("stop", r.ID.String()).Error(err).ToLogrus()).
				Warn("runtime stop failed, continuing with removal")
		}
		if err := c.runtime.Remove(ctx, *r.ContainerID); err != nil {
			c.logger.WithFields(sharedlogging.ReplicaFields("remove", r.ID.String()).Error(err).ToLogrus()).
				Warn("runtime remove failed")
		}
	}

	now := time.Now()
	r.Status = deployment.ReplicaStopped
	r.StoppedAt = &now
	return c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return c.store.UpdateReplica(ctx, tx, r)
	})
}

// Delete settles outstanding rewards, stops every non-terminal replica,
// and soft-deletes the deployment (spec §4.5). Re-deleting an
// already-deleted deployment is a no-op success.
func (c *Controller) Delete(ctx context.Context, deploymentID, actorUserID uuid.UUID) error {
	d, err := c.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d == nil {
		return appErrors.NewNotFoundError("deployment")
	}
	if d.IsDeleted() {
		return nil
	}

	outcome := c.settlement.CleanupWithDistribution(ctx, deploymentID, d.UserID)
	if !outcome.Success {
		return appErrors.Wrap(outcome.Error, appErrors.ErrorTypeRewardDistributionFailed, "reward settlement failed; deployment was not deleted")
	}

	replicas, err := c.store.ListReplicas(ctx, deploymentID)
	if err != nil {
		return err
	}
	for i := range replicas {
		r := replicas[i]
		if r.Status == deployment.ReplicaStopped || r.Status == deployment.ReplicaFailed {
			continue
		}
		if err := c.stopAndRemove(ctx, &r); err != nil {
			c.logger.WithFields(sharedlogging.ReplicaFields("delete_stop", r.ID.String()).Error(err).ToLogrus()).
				Warn("failed to stop replica during delete")
		}
	}

	reason := "deployment deleted"
	err = c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := c.store.UpdateDeploymentStatus(ctx, tx, deploymentID, deployment.StatusStopped, nil); err != nil {
			return err
		}
		if err := c.store.AppendStatusHistory(ctx, tx, &deployment.StatusHistory{
			ID: uuid.New(), DeploymentID: deploymentID, OldStatus: d.Status, NewStatus: deployment.StatusStopped,
			ChangedBy: &actorUserID, ChangedAt: time.Now(), Reason: &reason,
		}); err != nil {
			return err
		}
		if err := c.store.SoftDeleteDeployment(ctx, tx, deploymentID); err != nil {
			return err
		}
		deletedReason := "soft-deleted"
		return c.store.AppendStatusHistory(ctx, tx, &deployment.StatusHistory{
			ID: uuid.New(), DeploymentID: deploymentID, OldStatus: deployment.StatusStopped, NewStatus: deployment.StatusDeleted,
			ChangedBy: &actorUserID, ChangedAt: time.Now(), Reason: &deletedReason,
		})
	})
	if err != nil {
		return err
	}

	c.hooks.OnDeploymentDeleted(ctx, deploymentID)
	return nil
}

// Get returns a single deployment by id.
func (c *Controller) Get(ctx context.Context, deploymentID uuid.UUID) (*deployment.Deployment, error) {
	d, err := c.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, appErrors.NewNotFoundError("deployment")
	}
	return d, nil
}

// List scopes to a single user and excludes soft-deleted rows unless the
// caller opts in via filter.IncludeDeleted (spec §4.5).
func (c *Controller) List(ctx context.Context, userID uuid.UUID, filter persistence.ListFilter) ([]deployment.Deployment, error) {
	return c.store.ListDeployments(ctx, userID, filter)
}
