package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(discardWriter{})
	return logger
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRedisPublisher_PublishesDeploymentCreated(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub := client.Subscribe(context.Background(), "fog:deployments")
	defer sub.Close()

	publisher := NewRedisPublisher(client, "fog:deployments", testLogger())
	deploymentID := uuid.New()
	publisher.OnDeploymentCreated(context.Background(), deploymentID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}

	var evt Event
	if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	if evt.Type != EventDeploymentCreated {
		t.Errorf("Type = %s, want %s", evt.Type, EventDeploymentCreated)
	}
	if evt.DeploymentID != deploymentID {
		t.Errorf("DeploymentID = %s, want %s", evt.DeploymentID, deploymentID)
	}
}

func TestNoopHooks_DoesNothing(t *testing.T) {
	var h Hooks = NoopHooks{}
	h.OnDeploymentCreated(context.Background(), uuid.New())
	h.OnDeploymentDeleted(context.Background(), uuid.New())
}
