package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/DNYoussef/fog-compute-sub001/pkg/deployment"
	"github.com/DNYoussef/fog-compute-sub001/pkg/nodes"
	"github.com/DNYoussef/fog-compute-sub001/pkg/persistence"
	"github.com/DNYoussef/fog-compute-sub001/pkg/runtime"
)

// fakeStore is an in-memory persistence.Store used to exercise the
// scheduler without a live Postgres connection.
type fakeStore struct {
	mu         sync.Mutex
	deployments map[uuid.UUID]*deployment.Deployment
	resources   map[uuid.UUID]*deployment.Resource
	replicas    map[uuid.UUID]*deployment.Replica
	history     []deployment.StatusHistory
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deployments: map[uuid.UUID]*deployment.Deployment{},
		resources:   map[uuid.UUID]*deployment.Resource{},
		replicas:    map[uuid.UUID]*deployment.Replica{},
	}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

func (f *fakeStore) CreateDeployment(ctx context.Context, tx *sqlx.Tx, d *deployment.Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[d.ID] = d
	return nil
}

func (f *fakeStore) GetDeployment(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deployments[id], nil
}

func (f *fakeStore) GetDeploymentForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*deployment.Deployment, error) {
	return f.GetDeployment(ctx, id)
}

func (f *fakeStore) ListDeployments(ctx context.Context, userID uuid.UUID, filter persistence.ListFilter) ([]deployment.Deployment, error) {
	return nil, nil
}

func (f *fakeStore) UpdateDeploymentStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, newStatus deployment.Status, targetReplicas *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deployments[id]; ok {
		d.Status = newStatus
		if targetReplicas != nil {
			d.TargetReplicas = *targetReplicas
		}
	}
	return nil
}

func (f *fakeStore) SoftDeleteDeployment(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deployments[id]; ok {
		d.Status = deployment.StatusDeleted
	}
	return nil
}

func (f *fakeStore) UpsertResource(ctx context.Context, tx *sqlx.Tx, r *deployment.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[r.DeploymentID] = r
	return nil
}

func (f *fakeStore) GetResource(ctx context.Context, deploymentID uuid.UUID) (*deployment.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resources[deploymentID], nil
}

func (f *fakeStore) CreateReplica(ctx context.Context, tx *sqlx.Tx, r *deployment.Replica) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replicas[r.ID] = r
	return nil
}

func (f *fakeStore) UpdateReplica(ctx context.Context, tx *sqlx.Tx, r *deployment.Replica) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replicas[r.ID] = r
	return nil
}

func (f *fakeStore) ListReplicas(ctx context.Context, deploymentID uuid.UUID) ([]deployment.Replica, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []deployment.Replica
	for _, r := range f.replicas {
		if r.DeploymentID == deploymentID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendStatusHistory(ctx context.Context, tx *sqlx.Tx, h *deployment.StatusHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, *h)
	return nil
}

func (f *fakeStore) ListStatusHistory(ctx context.Context, deploymentID uuid.UUID, limit int) ([]deployment.StatusHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []deployment.StatusHistory
	for _, h := range f.history {
		if h.DeploymentID == deploymentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(logrusDiscard{})
	return logger
}

type logrusDiscard struct{}

func (logrusDiscard) Write(p []byte) (int, error) { return len(p), nil }

func TestScheduler_Place_HappyPath(t *testing.T) {
	store := newFakeStore()
	dir := nodes.NewInMemoryDirectory(
		nodes.Node{ID: "us-east-1", Status: nodes.StatusIdle, CPUCores: 8, MemoryMB: 16384, StorageGB: 100, Region: "us-east"},
		nodes.Node{ID: "us-west-1", Status: nodes.StatusIdle, CPUCores: 8, MemoryMB: 16384, StorageGB: 100, Region: "us-west"},
		nodes.Node{ID: "eu-west-1", Status: nodes.StatusIdle, CPUCores: 8, MemoryMB: 16384, StorageGB: 100, Region: "eu-west"},
	)
	rt := runtime.NewMockRuntime()

	depID := uuid.New()
	store.deployments[depID] = &deployment.Deployment{ID: depID, Status: deployment.StatusPending}

	s := New(store, dir, rt, defaultWeights(), 10, testLogger(), nil)
	result := s.Place(context.Background(), Task{
		DeploymentID: depID, TargetReplicas: 2, CPUCores: 1.0, MemoryMB: 512, StorageGB: 10,
		TargetRegion: "us-east", ContainerImage: "nginx",
	})

	if !result.Success {
		t.Fatalf("Place() failed: %s", result.FailureReason)
	}
	if result.ScheduledReplicas != 2 {
		t.Errorf("ScheduledReplicas = %d, want 2", result.ScheduledReplicas)
	}
	if store.deployments[depID].Status != deployment.StatusRunning {
		t.Errorf("deployment status = %s, want RUNNING", store.deployments[depID].Status)
	}

	seen := map[string]bool{}
	for _, p := range result.Placements {
		if seen[p.NodeID] {
			t.Errorf("duplicate node id %s in placements", p.NodeID)
		}
		seen[p.NodeID] = true
	}
}

func TestScheduler_Place_InsufficientCapacity(t *testing.T) {
	store := newFakeStore()
	dir := nodes.NewInMemoryDirectory(
		nodes.Node{ID: "n1", Status: nodes.StatusIdle, CPUCores: 8, MemoryMB: 16384, StorageGB: 100, Region: "us-east"},
	)
	rt := runtime.NewMockRuntime()

	depID := uuid.New()
	store.deployments[depID] = &deployment.Deployment{ID: depID, Status: deployment.StatusPending}

	s := New(store, dir, rt, defaultWeights(), 10, testLogger(), nil)
	result := s.Place(context.Background(), Task{
		DeploymentID: depID, TargetReplicas: 5, CPUCores: 1.0, MemoryMB: 512, StorageGB: 10,
		ContainerImage: "nginx",
	})

	if result.Success {
		t.Fatal("expected placement to fail on insufficient capacity")
	}
	if store.deployments[depID].Status != deployment.StatusFailed {
		t.Errorf("deployment status = %s, want FAILED", store.deployments[depID].Status)
	}
	if len(store.replicas) != 0 {
		t.Error("expected no replicas to be created on capacity shortfall")
	}
}

// unreachableRuntime always reports the runtime as unreachable on Create,
// exercising the synthetic mock-container-<id> fallback path.
type unreachableRuntime struct{}

func (unreachableRuntime) Create(context.Context, runtime.Config) (string, error) {
	return "", &runtime.UnreachableError{Cause: errUnreachable}
}
func (unreachableRuntime) Start(context.Context, string) error  { return nil }
func (unreachableRuntime) Stop(context.Context, string) error   { return nil }
func (unreachableRuntime) Remove(context.Context, string) error { return nil }

var errUnreachable = fmt.Errorf("daemon unreachable")

func TestScheduler_Place_FallsBackToSyntheticContainerWhenRuntimeUnreachable(t *testing.T) {
	store := newFakeStore()
	dir := nodes.NewInMemoryDirectory(
		nodes.Node{ID: "n1", Status: nodes.StatusIdle, CPUCores: 8, MemoryMB: 16384, StorageGB: 100, Region: "us-east"},
	)

	depID := uuid.New()
	store.deployments[depID] = &deployment.Deployment{ID: depID, Status: deployment.StatusPending}

	s := New(store, dir, unreachableRuntime{}, defaultWeights(), 10, testLogger(), nil)
	result := s.Place(context.Background(), Task{
		DeploymentID: depID, TargetReplicas: 1, CPUCores: 1.0, MemoryMB: 512, StorageGB: 10,
		TargetRegion: "us-east", ContainerImage: "nginx",
	})

	if !result.Success {
		t.Fatalf("Place() failed: %s", result.FailureReason)
	}
	for _, r := range store.replicas {
		if r.ContainerID == nil || *r.ContainerID != "mock-container-"+r.ID.String() {
			t.Errorf("replica %s container id = %v, want synthetic fallback id", r.ID, r.ContainerID)
		}
		if r.Status != deployment.ReplicaRunning {
			t.Errorf("replica %s status = %s, want RUNNING", r.ID, r.Status)
		}
	}
}

func TestScheduler_Enqueue_QueueFull(t *testing.T) {
	store := newFakeStore()
	dir := nodes.NewInMemoryDirectory()
	rt := runtime.NewMockRuntime()

	s := New(store, dir, rt, defaultWeights(), 1, testLogger(), nil)
	if _, err := s.Enqueue(Task{DeploymentID: uuid.New(), TargetReplicas: 1}); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}
	if _, err := s.Enqueue(Task{DeploymentID: uuid.New(), TargetReplicas: 1}); err == nil {
		t.Fatal("expected second Enqueue() to return a QueueFull error")
	}
}
