package controller

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/DNYoussef/fog-compute-sub001/internal/config"
	"github.com/DNYoussef/fog-compute-sub001/pkg/deployment"
	"github.com/DNYoussef/fog-compute-sub001/pkg/events"
	"github.com/DNYoussef/fog-compute-sub001/pkg/nodes"
	"github.com/DNYoussef/fog-compute-sub001/pkg/persistence"
	"github.com/DNYoussef/fog-compute-sub001/pkg/runtime"
	"github.com/DNYoussef/fog-compute-sub001/pkg/scheduler"
)

// fakeStore is an in-memory persistence.Store double shared by every
// controller test.
type fakeStore struct {
	mu          sync.Mutex
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

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error { return fn(nil) }

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
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []deployment.Deployment
	for _, d := range f.deployments {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
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
		now := d.UpdatedAt
		d.DeletedAt = &now
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
	stored := *r
	f.replicas[r.ID] = &stored
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

// fakeSettlement is a configurable Settlement double.
type fakeSettlement struct {
	outcome SettlementOutcome
}

func (f *fakeSettlement) CleanupWithDistribution(ctx context.Context, deploymentID, userID uuid.UUID) SettlementOutcome {
	return f.outcome
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(discardWriter{})
	return logger
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testBounds() config.ResourceBounds {
	return config.ResourceBounds{
		MinCPUCores: 0.1, MaxCPUCores: 32,
		MinMemoryMB: 64, MaxMemoryMB: 131072,
		MaxReplicasInitial: 10, MaxReplicasScale: 50,
	}
}

func newTestController(t *testing.T, store *fakeStore, settlement Settlement, seedNodes ...nodes.Node) (*Controller, *scheduler.Scheduler) {
	t.Helper()
	dir := nodes.NewInMemoryDirectory(seedNodes...)
	rt := runtime.NewMockRuntime()
	weights := scheduler.Weights{
		ResourceScoreWeight: 0.40, LoadScoreCPUWeight: 0.15, LoadScoreMemoryWeight: 0.15,
		LocalityScoreWeight: 0.30, MaxLatencyMS: 200, DefaultRegion: "us-east",
	}
	sched := scheduler.New(store, dir, rt, weights, 10, testLogger(), nil)

	quota, err := NewQuotaPolicy(context.Background())
	if err != nil {
		t.Fatalf("NewQuotaPolicy() error = %v", err)
	}

	return New(store, sched, rt, settlement, quota, events.NoopHooks{}, testBounds(), testLogger()), sched
}

func TestController_Create_HappyPath(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestController(t, store, &fakeSettlement{}, nodes.Node{
		ID: "n1", Status: nodes.StatusIdle, CPUCores: 8, MemoryMB: 16384, StorageGB: 100, Region: "us-east",
	})

	userID := uuid.New()
	d, err := c.Create(context.Background(), deployment.CreateRequest{
		UserID: userID, Name: "api", ContainerImage: "nginx:latest",
		TargetReplicas: 1, CPUCores: 1.0, MemoryMB: 512,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.Status != deployment.StatusPending && d.Status != deployment.StatusScheduled && d.Status != deployment.StatusRunning {
		t.Errorf("unexpected post-create status %s", d.Status)
	}
	if _, ok := store.deployments[d.ID]; !ok {
		t.Error("expected deployment to be persisted")
	}
}

func TestController_Create_RejectsOverQuotaReplicas(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestController(t, store, &fakeSettlement{})

	_, err := c.Create(context.Background(), deployment.CreateRequest{
		UserID: uuid.New(), Name: "api", ContainerImage: "nginx:latest",
		TargetReplicas: 999, CPUCores: 1.0, MemoryMB: 512,
	})
	if err == nil {
		t.Fatal("expected quota rejection for over-limit target_replicas")
	}
}

func TestController_Delete_AbortsOnSettlementFailure(t *testing.T) {
	store := newFakeStore()
	depID := uuid.New()
	userID := uuid.New()
	store.deployments[depID] = &deployment.Deployment{ID: depID, UserID: userID, Status: deployment.StatusRunning}

	c, _ := newTestController(t, store, &fakeSettlement{outcome: SettlementOutcome{Success: false}})
	err := c.Delete(context.Background(), depID, userID)
	if err == nil {
		t.Fatal("expected Delete to fail when settlement fails")
	}
	if store.deployments[depID].Status == deployment.StatusDeleted {
		t.Error("deployment must not be deleted when settlement fails")
	}
}

func TestController_Delete_IsIdempotent(t *testing.T) {
	store := newFakeStore()
	depID := uuid.New()
	userID := uuid.New()
	now := deployment.Deployment{ID: depID, UserID: userID, Status: deployment.StatusDeleted}
	deletedTime := now.UpdatedAt
	now.DeletedAt = &deletedTime
	store.deployments[depID] = &now

	c, _ := newTestController(t, store, &fakeSettlement{outcome: SettlementOutcome{Success: true}})
	if err := c.Delete(context.Background(), depID, userID); err != nil {
		t.Fatalf("expected idempotent delete to succeed, got %v", err)
	}
}

func TestController_Scale_RejectsFromPendingStatus(t *testing.T) {
	store := newFakeStore()
	depID := uuid.New()
	store.deployments[depID] = &deployment.Deployment{ID: depID, Status: deployment.StatusPending}
	store.resources[depID] = &deployment.Resource{DeploymentID: depID, CPUCores: 1, MemoryMB: 512}

	c, _ := newTestController(t, store, &fakeSettlement{})
	err := c.Scale(context.Background(), depID, 3)
	if err == nil {
		t.Fatal("expected Scale to reject a PENDING deployment")
	}
}
