// Package validation provides structural validators for deployment create/
// scale requests, layered in front of the quota policy engine: these catch
// malformed input before a request ever reaches the scheduler.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
)

var deploymentNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

var unsafeStringPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b.*\bselect\b`),
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`;`),
	regexp.MustCompile(`'`),
}

// ValidateStringInput rejects empty-after-trim input, input over maxLen,
// known SQL/script injection shapes, and non-whitespace control characters.
func ValidateStringInput(field, value string, maxLen int) error {
	if strings.TrimSpace(value) == "" {
		return appErrors.NewValidationError(fmt.Sprintf("%s must not be empty", field))
	}
	if len(value) > maxLen {
		return appErrors.NewValidationError(fmt.Sprintf("%s must be %d characters or less", field, maxLen))
	}

	for _, pattern := range unsafeStringPatterns {
		if pattern.MatchString(value) {
			return appErrors.NewValidationError(fmt.Sprintf("%s contains potentially unsafe characters", field))
		}
	}

	for _, r := range value {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return appErrors.NewValidationError(fmt.Sprintf("%s contains invalid control characters", field))
		}
	}

	return nil
}

// ValidateDeploymentName enforces the deployment name shape used in the
// per-user (user_id, name) uniqueness constraint.
func ValidateDeploymentName(name string) error {
	if name == "" {
		return appErrors.NewValidationError("name is required")
	}
	if len(name) > 63 {
		return appErrors.NewValidationError("name must be 63 characters or less")
	}
	if !deploymentNamePattern.MatchString(name) {
		return appErrors.NewValidationError("name must be lowercase alphanumeric with internal hyphens only")
	}
	return ValidateStringInput("name", name, 63)
}

// ValidateContainerImage parses the image reference with the same strict
// normalization the runtime adapter uses, rejecting malformed references
// before they reach the scheduler.
func ValidateContainerImage(image string) error {
	if image == "" {
		return appErrors.NewValidationError("container_image is required")
	}
	if len(image) > 500 {
		return appErrors.NewValidationError("container_image must be 500 characters or less")
	}
	if _, err := name.ParseReference(image); err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeValidation, "container_image is not a valid image reference")
	}
	return nil
}

// ResourceBounds is the subset of configured resource limits a single
// envelope is checked against.
type ResourceBounds struct {
	MinCPUCores float64
	MaxCPUCores float64
	MinMemoryMB int
	MaxMemoryMB int
}

// ValidateResourceEnvelope checks cpu/memory/gpu/storage requests against
// the configured bounds.
func ValidateResourceEnvelope(cpuCores float64, memoryMB, gpuUnits, storageGB int, bounds ResourceBounds) error {
	if cpuCores < bounds.MinCPUCores {
		return appErrors.NewValidationError(fmt.Sprintf("cpu_cores must be at least %.2f", bounds.MinCPUCores))
	}
	if cpuCores > bounds.MaxCPUCores {
		return appErrors.NewValidationError(fmt.Sprintf("cpu_cores must be %.2f or less", bounds.MaxCPUCores))
	}
	if memoryMB < bounds.MinMemoryMB {
		return appErrors.NewValidationError(fmt.Sprintf("memory_mb must be at least %d", bounds.MinMemoryMB))
	}
	if memoryMB > bounds.MaxMemoryMB {
		return appErrors.NewValidationError(fmt.Sprintf("memory_mb must be %d or less", bounds.MaxMemoryMB))
	}
	if gpuUnits < 0 {
		return appErrors.NewValidationError("gpu_units must be non-negative")
	}
	if storageGB < 0 {
		return appErrors.NewValidationError("storage_gb must be non-negative")
	}
	return nil
}

// ValidateReplicaCount rejects a replica count outside (0, max].
func ValidateReplicaCount(count, max int) error {
	if count <= 0 {
		return appErrors.NewValidationError("replica_count must be greater than 0")
	}
	if count > max {
		return appErrors.NewValidationError(fmt.Sprintf("replica_count must be %d or less", max))
	}
	return nil
}

// ValidateLimit bounds a list-endpoint page size to (0, 10000].
func ValidateLimit(limit int) error {
	if limit <= 0 {
		return appErrors.NewValidationError("limit must be greater than 0")
	}
	if limit > 10000 {
		return appErrors.NewValidationError("limit must be 10000 or less")
	}
	return nil
}

// SanitizeForLogging replaces non-whitespace control characters with '?'
// and truncates to 200 characters (appending "...") so log lines stay
// bounded and free of terminal-escape injection.
func SanitizeForLogging(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			b.WriteRune('?')
		} else {
			b.WriteRune(r)
		}
	}
	sanitized := b.String()
	if len(sanitized) > 200 {
		return sanitized[:197] + "..."
	}
	return sanitized
}
