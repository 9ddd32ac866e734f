// Package events defines the two cache-invalidation hook points the core
// exposes, plus a thin Redis pub/sub adapter an external cache layer can
// subscribe to. The core itself never imports a cache (spec §1, §9).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
	sharedErrors "github.com/DNYoussef/fog-compute-sub001/pkg/shared/errors"
)

// Hooks is the pair of invalidation callbacks a caller registers with the
// controller. Both are best-effort: a hook failure is logged, never
// propagated back into the control path that triggered it.
type Hooks interface {
	OnDeploymentCreated(ctx context.Context, deploymentID uuid.UUID)
	OnDeploymentDeleted(ctx context.Context, deploymentID uuid.UUID)
}

// Event is the pub/sub message payload.
type Event struct {
	Type         string    `json:"type"`
	DeploymentID uuid.UUID `json:"deployment_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

const (
	EventDeploymentCreated = "deployment.created"
	EventDeploymentDeleted = "deployment.deleted"
)

// RedisPublisher publishes deployment lifecycle events to a Redis channel
// for an external cache layer to invalidate against.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *logrus.Logger
}

// NewRedisPublisher builds a publisher against an already-configured
// client.
func NewRedisPublisher(client *redis.Client, channel string, logger *logrus.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// OnDeploymentCreated publishes a deployment.created event.
func (p *RedisPublisher) OnDeploymentCreated(ctx context.Context, deploymentID uuid.UUID) {
	p.publish(ctx, Event{Type: EventDeploymentCreated, DeploymentID: deploymentID, OccurredAt: time.Now()})
}

// OnDeploymentDeleted publishes a deployment.deleted event.
func (p *RedisPublisher) OnDeploymentDeleted(ctx context.Context, deploymentID uuid.UUID) {
	p.publish(ctx, Event{Type: EventDeploymentDeleted, DeploymentID: deploymentID, OccurredAt: time.Now()})
}

func (p *RedisPublisher) publish(ctx context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.WithError(err).Warn("failed to marshal cache-invalidation event")
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		opErr := &sharedErrors.OperationError{Operation: "publish", Component: "redis", Resource: p.channel, Cause: err}
		p.logger.WithError(appErrors.Wrap(opErr, appErrors.ErrorTypeRuntimeError, "cache-invalidation publish failed")).
			Warn("failed to publish cache-invalidation event")
	}
}

// NoopHooks satisfies Hooks for callers that don't wire a cache layer.
type NoopHooks struct{}

func (NoopHooks) OnDeploymentCreated(context.Context, uuid.UUID) {}
func (NoopHooks) OnDeploymentDeleted(context.Context, uuid.UUID) {}
