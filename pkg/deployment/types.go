// Package deployment defines the core entities of the deployment control
// plane: Deployment, DeploymentResource, DeploymentReplica, and the
// append-only DeploymentStatusHistory, along with the two state machines
// that govern their status fields.
package deployment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the deployment lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusScheduled Status = "SCHEDULED"
	StatusRunning   Status = "RUNNING"
	StatusStopped   Status = "STOPPED"
	StatusFailed    Status = "FAILED"
	StatusDeleted   Status = "DELETED"
)

// ReplicaStatus is the per-replica lifecycle state.
type ReplicaStatus string

const (
	ReplicaPending  ReplicaStatus = "PENDING"
	ReplicaStarting ReplicaStatus = "STARTING"
	ReplicaRunning  ReplicaStatus = "RUNNING"
	ReplicaStopping ReplicaStatus = "STOPPING"
	ReplicaStopped  ReplicaStatus = "STOPPED"
	ReplicaFailed   ReplicaStatus = "FAILED"
)

// deploymentTransitions enumerates the directed edges of the deployment
// status graph in spec §4.2.
var deploymentTransitions = map[Status][]Status{
	StatusPending:   {StatusScheduled, StatusFailed},
	StatusScheduled: {StatusRunning, StatusFailed},
	StatusRunning:   {StatusStopped, StatusFailed},
	StatusStopped:   {StatusDeleted, StatusFailed},
	StatusFailed:    {},
	StatusDeleted:   {},
}

// CanTransitionDeployment reports whether from→to is a legal edge in the
// deployment status graph.
func CanTransitionDeployment(from, to Status) bool {
	for _, allowed := range deploymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// replicaTransitions enumerates the directed edges of the replica status
// graph in spec §4.2.
var replicaTransitions = map[ReplicaStatus][]ReplicaStatus{
	ReplicaPending:  {ReplicaStarting, ReplicaFailed},
	ReplicaStarting: {ReplicaRunning, ReplicaFailed},
	ReplicaRunning:  {ReplicaStopping, ReplicaFailed},
	ReplicaStopping: {ReplicaStopped, ReplicaFailed},
	ReplicaStopped:  {},
	ReplicaFailed:   {},
}

// CanTransitionReplica reports whether from→to is a legal edge in the
// replica status graph.
func CanTransitionReplica(from, to ReplicaStatus) bool {
	for _, allowed := range replicaTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Deployment is the authoritative record of a user's request to run a
// container image at a stated replica count and resource envelope.
type Deployment struct {
	ID             uuid.UUID  `db:"id"`
	Name           string     `db:"name"`
	UserID         uuid.UUID  `db:"user_id"`
	ContainerImage string     `db:"container_image"`
	Status         Status     `db:"status"`
	TargetReplicas int        `db:"target_replicas"`
	TargetRegion   string     `db:"target_region"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at"`
}

// IsDeleted reports whether the deployment has been soft-deleted.
func (d *Deployment) IsDeleted() bool {
	return d.DeletedAt != nil
}

// Resource is the per-replica allocation envelope, identical across every
// replica of a deployment (D4: exactly one row per deployment).
type Resource struct {
	DeploymentID uuid.UUID `db:"deployment_id"`
	CPUCores     float64   `db:"cpu_cores"`
	MemoryMB     int       `db:"memory_mb"`
	GPUUnits     int       `db:"gpu_units"`
	StorageGB    int       `db:"storage_gb"`
}

// Replica is a single running instance of a deployment on a specific node.
type Replica struct {
	ID           uuid.UUID  `db:"id"`
	DeploymentID uuid.UUID  `db:"deployment_id"`
	NodeID       *string    `db:"node_id"`
	Status       ReplicaStatus `db:"status"`
	ContainerID  *string    `db:"container_id"`
	StartedAt    *time.Time `db:"started_at"`
	StoppedAt    *time.Time `db:"stopped_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// StatusHistory is an append-only audit row for a single deployment status
// transition (H1: exactly one row per transition).
type StatusHistory struct {
	ID           uuid.UUID  `db:"id"`
	DeploymentID uuid.UUID  `db:"deployment_id"`
	OldStatus    Status     `db:"old_status"`
	NewStatus    Status     `db:"new_status"`
	ChangedBy    *uuid.UUID `db:"changed_by"`
	ChangedAt    time.Time  `db:"changed_at"`
	Reason       *string    `db:"reason"`
}

// CreateRequest is the validated input to DeploymentController.Create.
// Structural bounds are enforced via validator tags; quota bounds (which
// depend on runtime configuration) are enforced separately by the quota
// policy.
type CreateRequest struct {
	UserID         uuid.UUID `validate:"required"`
	Name           string    `validate:"required,max=100"`
	ContainerImage string    `validate:"required,max=500"`
	TargetReplicas int       `validate:"min=1"`
	TargetRegion   string    `validate:"omitempty,max=50"`
	CPUCores       float64   `validate:"gt=0"`
	MemoryMB       int       `validate:"gt=0"`
	GPUUnits       int       `validate:"gte=0"`
	StorageGB      int       `validate:"gte=0"`
}

// Placement describes one successfully scheduled replica.
type Placement struct {
	NodeID    string
	ReplicaID uuid.UUID
	Score     float64
}

// PlacementResult is the outcome of one scheduler run (spec §4.4).
type PlacementResult struct {
	Success           bool
	ScheduledReplicas int
	Placements        []Placement
	FailureReason     string
}
