// Package scheduler implements the PlacementScheduler (C5): selecting
// nodes, reserving capacity, creating replica records, and driving
// replicas through the container runtime.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
	"github.com/DNYoussef/fog-compute-sub001/pkg/deployment"
	"github.com/DNYoussef/fog-compute-sub001/pkg/metrics"
	"github.com/DNYoussef/fog-compute-sub001/pkg/nodes"
	"github.com/DNYoussef/fog-compute-sub001/pkg/persistence"
	"github.com/DNYoussef/fog-compute-sub001/pkg/runtime"
	sharedlogging "github.com/DNYoussef/fog-compute-sub001/pkg/shared/logging"
)

// Task is the input to one placement run.
type Task struct {
	DeploymentID   uuid.UUID
	TargetReplicas int
	CPUCores       float64
	MemoryMB       int
	GPUUnits       int
	StorageGB      int
	TargetRegion   string
	ContainerImage string
}

// Result is the outcome of one placement run (spec §4.4).
type Result struct {
	Success           bool
	ScheduledReplicas int
	Placements        []deployment.Placement
	FailureReason     string
}

// Scheduler is the PlacementScheduler (C5): a direct synchronous call plus
// a bounded work queue serviced by one background worker.
type Scheduler struct {
	store      persistence.Store
	directory  nodes.Directory
	runtime    runtime.Runtime
	weights    Weights
	logger     *logrus.Logger
	metrics    *metrics.Registry
	queue      chan queuedTask
	shutdown   chan struct{}
}

type queuedTask struct {
	task   Task
	result chan<- Result
}

// New builds a Scheduler with a queue of the given size. Call Run in a
// goroutine to start the background worker; call Shutdown to stop it.
func New(store persistence.Store, directory nodes.Directory, rt runtime.Runtime, weights Weights, queueSize int, logger *logrus.Logger, reg *metrics.Registry) *Scheduler {
	return &Scheduler{
		store:     store,
		directory: directory,
		runtime:   rt,
		weights:   weights,
		logger:    logger,
		metrics:   reg,
		queue:     make(chan queuedTask, queueSize),
		shutdown:  make(chan struct{}),
	}
}

// Enqueue submits a placement task to the bounded work queue. It never
// blocks: a saturated queue returns a QueueFull AppError immediately
// (spec §4.4).
func (s *Scheduler) Enqueue(task Task) (<-chan Result, error) {
	result := make(chan Result, 1)
	select {
	case s.queue <- queuedTask{task: task, result: result}:
		if s.metrics != nil {
			s.metrics.QueueDepth.Set(float64(len(s.queue)))
		}
		return result, nil
	default:
		return nil, appErrors.NewQueueFullError()
	}
}

// Run drains the queue until Shutdown is called. It is meant to run in its
// own goroutine; the placement worker is single-threaded by design so
// capacity reservations serialize (spec §5).
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ctx.Done():
			return
		case qt := <-s.queue:
			if s.metrics != nil {
				s.metrics.QueueDepth.Set(float64(len(s.queue)))
			}
			result := s.Place(ctx, qt.task)
			qt.result <- result
		case <-ticker.C:
			// Periodic wakeup keeps shutdown responsive even when idle.
		}
	}
}

// Shutdown stops the background worker; it does not drain pending tasks.
func (s *Scheduler) Shutdown() {
	close(s.shutdown)
}

// Place runs one synchronous placement: capacity filter, scoring,
// reservation, and driving replicas through the runtime (spec §4.4).
func (s *Scheduler) Place(ctx context.Context, task Task) Result {
	start := time.Now()
	fields := sharedlogging.SchedulerFields("place", task.DeploymentID.String()).Count(task.TargetReplicas)
	s.logger.WithFields(fields.ToLogrus()).Info("starting placement run")

	candidates, err := s.directory.FindAvailable(ctx, task.CPUCores, task.MemoryMB, task.GPUUnits, task.StorageGB)
	if err != nil {
		return s.fail(ctx, task, "failed to query node directory: "+err.Error())
	}
	if len(candidates) < task.TargetReplicas {
		reason := fmt.Sprintf("insufficient capacity: need %d nodes, found %d", task.TargetReplicas, len(candidates))
		return s.fail(ctx, task, reason)
	}

	region := task.TargetRegion
	if region == "" {
		region = s.weights.DefaultRegion
	}
	ranked := RankCandidates(candidates, task.CPUCores, task.MemoryMB, region, s.weights)
	selected := ranked[:task.TargetReplicas]

	replicas := make([]*deployment.Replica, len(selected))
	placements := make([]deployment.Placement, len(selected))
	now := time.Now()
	for i, c := range selected {
		nodeID := c.Node.ID
		replicas[i] = &deployment.Replica{
			ID:           uuid.New(),
			DeploymentID: task.DeploymentID,
			NodeID:       &nodeID,
			Status:       deployment.ReplicaPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		placements[i] = deployment.Placement{NodeID: nodeID, ReplicaID: replicas[i].ID, Score: c.Score}
	}

	err = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, r := range replicas {
			if err := s.store.CreateReplica(ctx, tx, r); err != nil {
				return err
			}
		}
		if err := s.store.UpsertResource(ctx, tx, &deployment.Resource{
			DeploymentID: task.DeploymentID,
			CPUCores:     task.CPUCores,
			MemoryMB:     task.MemoryMB,
			GPUUnits:     task.GPUUnits,
			StorageGB:    task.StorageGB,
		}); err != nil {
			return err
		}
		return s.transitionDeployment(ctx, tx, task.DeploymentID, deployment.StatusPending, deployment.StatusScheduled, "replicas reserved")
	})
	if err != nil {
		s.bestEffortFail(ctx, task.DeploymentID, "reservation transaction aborted: "+err.Error())
		return s.observeFailure(start, "reservation transaction aborted")
	}

	runningCount := 0
	for _, r := range replicas {
		if s.driveReplica(ctx, r, task) {
			runningCount++
		}
	}

	finalStatus := deployment.StatusFailed
	reason := "all replicas failed to start"
	if runningCount > 0 {
		finalStatus = deployment.StatusRunning
		reason = fmt.Sprintf("%d of %d replicas running", runningCount, len(replicas))
	}
	_ = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.transitionDeployment(ctx, tx, task.DeploymentID, deployment.StatusScheduled, finalStatus, reason)
	})

	if runningCount == 0 {
		return s.observeFailure(start, reason)
	}
	if s.metrics != nil {
		s.metrics.PlacementSuccesses.Inc()
		s.metrics.PlacementDuration.Observe(time.Since(start).Seconds())
	}
	return Result{Success: true, ScheduledReplicas: runningCount, Placements: placements}
}

// driveReplica issues Create+Start against the runtime and persists the
// replica's resulting status (spec §4.4 step 6, §4.8).
func (s *Scheduler) driveReplica(ctx context.Context, r *deployment.Replica, task Task) bool {
	_ = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		r.Status = deployment.ReplicaStarting
		return s.store.UpdateReplica(ctx, tx, r)
	})

	labels := map[string]string{
		"deployment_id": task.DeploymentID.String(),
		"replica_id":    r.ID.String(),
		"managed":       "true",
	}
	containerID, err := s.runtime.Create(ctx, runtime.Config{
		Image: task.ContainerImage, CPUCores: task.CPUCores, MemoryMB: task.MemoryMB, Labels: labels,
	})
	synthetic := false
	if err != nil {
		var unreachable *runtime.UnreachableError
		if !errors.As(err, &unreachable) {
			s.logger.WithFields(sharedlogging.ReplicaFields("create", r.ID.String()).ToLogrus()).
				Warn("container create failed")
			_ = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
				r.Status = deployment.ReplicaFailed
				r.ContainerID = nil
				return s.store.UpdateReplica(ctx, tx, r)
			})
			return false
		}
		s.logger.WithFields(sharedlogging.ReplicaFields("create", r.ID.String()).Error(err).ToLogrus()).
			Warn("runtime unreachable, falling back to synthetic container id")
		containerID = "mock-container-" + r.ID.String()
		synthetic = true
	}

	if !synthetic {
		if err := s.runtime.Start(ctx, containerID); err != nil {
			s.logger.WithFields(sharedlogging.ReplicaFields("start", r.ID.String()).ToLogrus()).
				Warn("container start failed")
			_ = s.runtime.Remove(ctx, containerID)
			_ = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
				r.Status = deployment.ReplicaFailed
				r.ContainerID = nil
				return s.store.UpdateReplica(ctx, tx, r)
			})
			return false
		}
	}

	now := time.Now()
	r.Status = deployment.ReplicaRunning
	r.ContainerID = &containerID
	r.StartedAt = &now
	_ = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.store.UpdateReplica(ctx, tx, r)
	})
	return true
}

// transitionDeployment updates status and appends a history row inside
// the caller's transaction (H1: exactly one row per transition).
func (s *Scheduler) transitionDeployment(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to deployment.Status, reason string) error {
	if err := s.store.UpdateDeploymentStatus(ctx, tx, id, to, nil); err != nil {
		return err
	}
	return s.store.AppendStatusHistory(ctx, tx, &deployment.StatusHistory{
		ID: uuid.New(), DeploymentID: id, OldStatus: from, NewStatus: to,
		ChangedAt: time.Now(), Reason: &reason,
	})
}

func (s *Scheduler) fail(ctx context.Context, task Task, reason string) Result {
	s.bestEffortFail(ctx, task.DeploymentID, reason)
	return s.observeFailure(time.Now(), reason)
}

// bestEffortFail transitions the deployment to FAILED in a fresh
// transaction (spec §4.4 step 8: used both for capacity shortfalls and
// for recovering after a mid-placement transaction abort).
func (s *Scheduler) bestEffortFail(ctx context.Context, id uuid.UUID, reason string) {
	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.transitionDeployment(ctx, tx, id, deployment.StatusPending, deployment.StatusFailed, reason)
	})
	if err != nil {
		s.logger.WithFields(appErrors.LogFields(err)).Error("failed to record deployment failure")
	}
}

func (s *Scheduler) observeFailure(start time.Time, reason string) Result {
	if s.metrics != nil {
		s.metrics.PlacementFailures.Inc()
		s.metrics.PlacementDuration.Observe(time.Since(start).Seconds())
	}
	return Result{Success: false, FailureReason: reason}
}
