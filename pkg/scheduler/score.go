package scheduler

import (
	"sort"

	"github.com/DNYoussef/fog-compute-sub001/pkg/nodes"
)

// Weights holds the scoring coefficients from spec §4.4/§6. They must sum
// to 1.00; the caller (internal/config) enforces that at startup.
type Weights struct {
	ResourceScoreWeight   float64
	LoadScoreCPUWeight    float64
	LoadScoreMemoryWeight float64
	LocalityScoreWeight   float64
	MaxLatencyMS          int
	DefaultRegion         string
}

// Candidate pairs a node with its computed placement score.
type Candidate struct {
	Node  nodes.Node
	Score float64
}

// scoreNode computes score(n) for the requested envelope and target
// region, per spec §4.4 step 2.
func scoreNode(n nodes.Node, cpuReq float64, memReq int, targetRegion string, w Weights) float64 {
	cpuFreeRatio := (n.CPUFree() - cpuReq) / n.CPUCores
	memFreeRatio := (n.MemoryFree() - float64(memReq)) / float64(n.MemoryMB)
	resourceScore := w.ResourceScoreWeight * (cpuFreeRatio + memFreeRatio) / 2

	loadScore := w.LoadScoreCPUWeight*(100-n.CPUUsagePercent)/100 +
		w.LoadScoreMemoryWeight*(100-n.MemoryUsagePercent)/100

	lat := latency(targetRegion, n.Region, w.MaxLatencyMS)
	localityScore := w.LocalityScoreWeight * (1 - float64(lat)/float64(w.MaxLatencyMS))

	return resourceScore + loadScore + localityScore
}

// RankCandidates scores every candidate node and returns them sorted
// descending by score, ties broken lexicographically ascending by node id
// (spec §4.4 step 3, §8 boundary behavior).
func RankCandidates(candidates []nodes.Node, cpuReq float64, memReq int, targetRegion string, w Weights) []Candidate {
	ranked := make([]Candidate, len(candidates))
	for i, n := range candidates {
		ranked[i] = Candidate{Node: n, Score: scoreNode(n, cpuReq, memReq, targetRegion, w)}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Node.ID < ranked[j].Node.ID
	})
	return ranked
}
