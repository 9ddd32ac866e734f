// Package nodes provides the read-only fleet snapshot the placement
// scheduler queries for capacity.
package nodes

import (
	"context"
	"sort"
	"sync"
)

// Status is a node's availability state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusActive      Status = "active"
	StatusBusy        Status = "busy"
	StatusOffline     Status = "offline"
	StatusMaintenance Status = "maintenance"
)

// Node is a fog-compute fleet member, read-only to the scheduler.
type Node struct {
	ID                 string
	Status             Status
	CPUCores           float64
	MemoryMB           int
	StorageGB          int
	GPUAvailable       bool
	CPUUsagePercent    float64
	MemoryUsagePercent float64
	Region             string
}

// CPUFree is the node's unreserved CPU capacity.
func (n Node) CPUFree() float64 {
	return n.CPUCores * (1 - n.CPUUsagePercent/100)
}

// MemoryFree is the node's unreserved memory capacity in MB.
func (n Node) MemoryFree() float64 {
	return float64(n.MemoryMB) * (1 - n.MemoryUsagePercent/100)
}

// schedulable reports whether the node is in a status the scheduler may place onto.
func (n Node) schedulable() bool {
	return n.Status == StatusIdle || n.Status == StatusActive
}

// Directory is the NodeDirectory port (C4).
type Directory interface {
	FindAvailable(ctx context.Context, cpuCores float64, memoryMB, gpuUnits, storageGB int) ([]Node, error)
}

// InMemoryDirectory is a fleet snapshot seeded by the operator or tests.
type InMemoryDirectory struct {
	mu    sync.RWMutex
	nodes map[string]Node
}

// NewInMemoryDirectory builds a directory seeded with the given nodes.
func NewInMemoryDirectory(seed ...Node) *InMemoryDirectory {
	d := &InMemoryDirectory{nodes: make(map[string]Node, len(seed))}
	for _, n := range seed {
		d.nodes[n.ID] = n
	}
	return d
}

// Upsert adds or replaces a node in the snapshot.
func (d *InMemoryDirectory) Upsert(n Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[n.ID] = n
}

// Remove drops a node from the snapshot.
func (d *InMemoryDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.nodes, id)
}

// FindAvailable returns every schedulable node with enough free capacity
// for the requested envelope, ordered by node id (the scheduler does its
// own ranking).
func (d *InMemoryDirectory) FindAvailable(_ context.Context, cpuCores float64, memoryMB, gpuUnits, storageGB int) ([]Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var results []Node
	for _, n := range d.nodes {
		if !n.schedulable() {
			continue
		}
		if n.CPUFree() < cpuCores {
			continue
		}
		if n.MemoryFree() < float64(memoryMB) {
			continue
		}
		if n.StorageGB < storageGB {
			continue
		}
		if gpuUnits > 0 && !n.GPUAvailable {
			continue
		}
		results = append(results, n)
	}

	// Deterministic iteration order for callers that don't re-sort (tests).
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}
