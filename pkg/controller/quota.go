package controller

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
	"github.com/DNYoussef/fog-compute-sub001/internal/config"
)

//go:embed quota.rego
var quotaModule string

// QuotaInput is the input document evaluated against the embedded Rego
// quota policy.
type QuotaInput struct {
	Operation      string  `json:"operation"`
	TargetReplicas int     `json:"target_replicas"`
	MaxReplicasInitial int `json:"max_replicas_initial"`
	MaxReplicasScale   int `json:"max_replicas_scale"`
	CPUCores    float64 `json:"cpu_cores"`
	MinCPUCores float64 `json:"min_cpu_cores"`
	MaxCPUCores float64 `json:"max_cpu_cores"`
	MemoryMB    int     `json:"memory_mb"`
	MinMemoryMB int     `json:"min_memory_mb"`
	MaxMemoryMB int     `json:"max_memory_mb"`
}

// QuotaPolicy evaluates create/scale requests against the embedded Rego
// module, so quota bounds can change without a Go recompile.
type QuotaPolicy struct {
	allowQuery *rego.PreparedEvalQuery
	violationsQuery *rego.PreparedEvalQuery
}

// NewQuotaPolicy prepares the embedded module's queries once at startup.
func NewQuotaPolicy(ctx context.Context) (*QuotaPolicy, error) {
	allowQuery, err := rego.New(
		rego.Query("data.fogorchestrator.quota.allow"),
		rego.Module("quota.rego", quotaModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "failed to prepare quota policy")
	}

	violationsQuery, err := rego.New(
		rego.Query("data.fogorchestrator.quota.violations"),
		rego.Module("quota.rego", quotaModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "failed to prepare quota violations query")
	}

	return &QuotaPolicy{allowQuery: &allowQuery, violationsQuery: &violationsQuery}, nil
}

// EnvelopeInput builds a QuotaInput from the resource bounds in config.
func EnvelopeInput(operation string, targetReplicas int, cpuCores float64, memoryMB int, bounds config.ResourceBounds) QuotaInput {
	return QuotaInput{
		Operation:          operation,
		TargetReplicas:     targetReplicas,
		MaxReplicasInitial: bounds.MaxReplicasInitial,
		MaxReplicasScale:   bounds.MaxReplicasScale,
		CPUCores:           cpuCores,
		MinCPUCores:        bounds.MinCPUCores,
		MaxCPUCores:        bounds.MaxCPUCores,
		MemoryMB:           memoryMB,
		MinMemoryMB:        bounds.MinMemoryMB,
		MaxMemoryMB:        bounds.MaxMemoryMB,
	}
}

// Evaluate returns a Validation AppError describing every violation if the
// input is rejected by the quota policy, or nil if it's allowed.
func (q *QuotaPolicy) Evaluate(ctx context.Context, input QuotaInput) error {
	results, err := q.allowQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "quota policy evaluation failed")
	}
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if allowed, ok := results[0].Expressions[0].Value.(bool); ok && allowed {
			return nil
		}
	}

	violationResults, err := q.violationsQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return appErrors.NewValidationError("request rejected by quota policy")
	}

	var messages []string
	if len(violationResults) > 0 && len(violationResults[0].Expressions) > 0 {
		if raw, ok := violationResults[0].Expressions[0].Value.([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					messages = append(messages, s)
				}
			}
		}
	}
	if len(messages) == 0 {
		return appErrors.NewValidationError("request rejected by quota policy")
	}
	return appErrors.NewValidationError(fmt.Sprintf("quota policy violations: %s", strings.Join(messages, "; ")))
}
