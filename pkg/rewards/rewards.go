// Package rewards implements the RewardSettlement pipeline (C7): computing
// pending rewards for a deployment, distributing them atomically with
// rollback on failure, and gating cleanup on that outcome.
package rewards

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
	"github.com/DNYoussef/fog-compute-sub001/pkg/audit"
	"github.com/DNYoussef/fog-compute-sub001/pkg/deployment"
	"github.com/DNYoussef/fog-compute-sub001/pkg/metrics"
	sharedlogging "github.com/DNYoussef/fog-compute-sub001/pkg/shared/logging"
	"github.com/DNYoussef/fog-compute-sub001/pkg/tokens"
)

// ReplicaLister is the slice of persistence.Store settlement needs: reading
// a deployment's replicas to compute runtime rewards. Kept narrow so tests
// don't need a full Store double.
type ReplicaLister interface {
	ListReplicas(ctx context.Context, deploymentID uuid.UUID) ([]deployment.Replica, error)
}

// TreasuryAccount is the system account rewards are paid from and rollbacks
// returned to.
const TreasuryAccount = "treasury"

const (
	RewardTypeStaking = "staking"
	RewardTypeRuntime = "runtime"
)

const (
	DistributionPending    = "pending"
	DistributionDistributed = "distributed"
	DistributionFailed     = "failed"
	DistributionRolledBack = "rolled_back"
)

// PendingReward is an in-memory value object computed during settlement
// (spec §3's PendingReward entity).
type PendingReward struct {
	RewardID     string
	AccountID    string
	Amount       decimal.Decimal
	RewardType   string
	Reason       string
	DeploymentID uuid.UUID
	Metadata     map[string]any
	CreatedAt    time.Time
}

// distributed tracks a reward that has already been transferred, in case a
// later reward in the same cleanup call fails and rollback is needed.
type distributed struct {
	reward PendingReward
}

// CleanupResult is the outcome of one CleanupWithDistribution call.
type CleanupResult struct {
	Success            bool
	RewardsDistributed int
	RewardsAmount      decimal.Decimal
	CleanupCompleted   bool
	RollbackOccurred   bool
	Error              error
}

// Config holds the settlement pipeline's rate constants (spec §9: staking
// APY and runtime reward rate are owned here, see DESIGN.md).
type Config struct {
	StakingAPY         float64
	RuntimeRatePerHour float64
	MinRewardThreshold float64
}

// Settlement is the RewardSettlement port implementation (C7).
type Settlement struct {
	tokens     tokens.System
	store      ReplicaLister
	config     Config
	auditRing  *audit.Ring
	metrics    *metrics.Registry
	slack      *slack.Client
	slackChan  string
	logger     *logrus.Logger
}

// New builds a Settlement. slackClient and slackChannel may be left
// zero-valued/empty; rollback-failure alerts are then just logged.
func New(tokenSystem tokens.System, store ReplicaLister, config Config, auditRing *audit.Ring, reg *metrics.Registry, slackClient *slack.Client, slackChannel string, logger *logrus.Logger) *Settlement {
	return &Settlement{
		tokens:    tokenSystem,
		store:     store,
		config:    config,
		auditRing: auditRing,
		metrics:   reg,
		slack:     slackClient,
		slackChan: slackChannel,
		logger:    logger,
	}
}

// CleanupWithDistribution enumerates pending rewards for a deployment,
// distributes them atomically, and reports whether cleanup may proceed
// (spec §4.6).
func (s *Settlement) CleanupWithDistribution(ctx context.Context, deploymentID, userID uuid.UUID) CleanupResult {
	fields := sharedlogging.RewardFields("cleanup_with_distribution", deploymentID.String())
	s.logger.WithFields(fields.ToLogrus()).Info("starting reward settlement")

	pending, err := s.enumeratePendingRewards(ctx, deploymentID, userID)
	if err != nil {
		return CleanupResult{Success: false, Error: err}
	}
	if len(pending) == 0 {
		return CleanupResult{Success: true, CleanupCompleted: true, RewardsAmount: decimal.Zero}
	}

	var distributedSoFar []distributed
	totalAmount := decimal.Zero

	for _, reward := range pending {
		if s.metrics != nil {
			s.metrics.RewardDistributions.Inc()
		}
		err := s.tokens.Transfer(ctx, TreasuryAccount, reward.AccountID, reward.Amount)
		if err != nil {
			s.recordAudit(reward.RewardID, DistributionFailed, err.Error())
			if s.metrics != nil {
				s.metrics.RewardFailures.Inc()
			}
			rollbackErr := s.rollback(ctx, distributedSoFar)
			return CleanupResult{
				Success:          false,
				RollbackOccurred: true,
				Error:            appErrors.NewRewardDistributionFailedError(reward.RewardID, rollbackErr),
			}
		}

		s.recordAudit(reward.RewardID, DistributionDistributed, reward.Reason)
		if s.metrics != nil {
			s.metrics.RewardSuccesses.Inc()
		}
		distributedSoFar = append(distributedSoFar, distributed{reward: reward})
		totalAmount = totalAmount.Add(reward.Amount)
	}

	if s.metrics != nil {
		amountFloat, _ := totalAmount.Float64()
		s.metrics.RewardTotalAmount.Add(amountFloat)
	}

	return CleanupResult{
		Success:            true,
		RewardsDistributed: len(distributedSoFar),
		RewardsAmount:      totalAmount,
		CleanupCompleted:   true,
	}
}

// enumeratePendingRewards computes staking and runtime rewards per spec
// §4.6 step 1. The deployment owner's user id doubles as the staking
// account; each running replica's node operator (identified by node id)
// earns the runtime reward for the hours it has been running.
func (s *Settlement) enumeratePendingRewards(ctx context.Context, deploymentID, userID uuid.UUID) ([]PendingReward, error) {
	var pending []PendingReward

	account := userID.String()
	staked, err := s.tokens.StakedBalance(ctx, account)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeRuntimeError, "failed to read staked balance")
	}
	if staked.IsPositive() {
		lastReward, err := s.tokens.LastRewardTime(ctx, account)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrorTypeRuntimeError, "failed to read last reward time")
		}
		hours := hoursSince(lastReward)
		amount := staked.
			Mul(decimal.NewFromFloat(s.config.StakingAPY)).
			Mul(decimal.NewFromFloat(hours)).
			Div(decimal.NewFromInt(8760))
		if amount.GreaterThan(decimal.NewFromFloat(s.config.MinRewardThreshold)) {
			pending = append(pending, PendingReward{
				RewardID: uuid.NewString(), AccountID: account, Amount: amount,
				RewardType: RewardTypeStaking, Reason: "staking reward accrual",
				DeploymentID: deploymentID, CreatedAt: time.Now(),
				Metadata: map[string]any{"staked_amount": staked.String(), "hours_accumulated": hours},
			})
		}
	}

	replicas, err := s.store.ListReplicas(ctx, deploymentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeRuntimeError, "failed to list replicas for settlement")
	}
	for _, r := range replicas {
		if r.Status != deployment.ReplicaRunning && r.Status != deployment.ReplicaStopping {
			continue
		}
		if r.StartedAt == nil {
			continue
		}
		nodeAccount := "unknown-node"
		if r.NodeID != nil {
			nodeAccount = *r.NodeID
		}
		runtimeHours := hoursSince(*r.StartedAt)
		amount := decimal.NewFromFloat(runtimeHours).Mul(decimal.NewFromFloat(s.config.RuntimeRatePerHour))
		if amount.GreaterThan(decimal.NewFromFloat(s.config.MinRewardThreshold)) {
			pending = append(pending, PendingReward{
				RewardID: uuid.NewString(), AccountID: nodeAccount, Amount: amount,
				RewardType: RewardTypeRuntime, Reason: fmt.Sprintf("runtime reward for replica %s", r.ID),
				DeploymentID: deploymentID, CreatedAt: time.Now(),
				Metadata: map[string]any{"running_hours": runtimeHours, "replica_id": r.ID.String()},
			})
		}
	}

	return pending, nil
}

// rollback reverses every already-distributed reward in this call. A
// rollback transfer failure is logged as requiring manual intervention and
// does not stop the remaining rollbacks (spec §4.6 step 3).
func (s *Settlement) rollback(ctx context.Context, distributedSoFar []distributed) error {
	var firstErr error
	for _, d := range distributedSoFar {
		err := s.tokens.Transfer(ctx, d.reward.AccountID, TreasuryAccount, d.reward.Amount)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.WithFields(sharedlogging.RewardFields("rollback", d.reward.DeploymentID.String()).ToLogrus()).
				Error("MANUAL INTERVENTION REQUIRED: rollback transfer failed")
			s.notifyRollbackFailure(d.reward, err)
			s.recordAudit(d.reward.RewardID, DistributionFailed, "rollback transfer failed: "+err.Error())
			continue
		}
		if s.metrics != nil {
			s.metrics.RewardRollbacks.Inc()
		}
		s.recordAudit(d.reward.RewardID, DistributionRolledBack, "rollback: "+d.reward.Reason)
	}
	return firstErr
}

// notifyRollbackFailure posts a best-effort Slack alert. Failure to notify
// never blocks the control path.
func (s *Settlement) notifyRollbackFailure(reward PendingReward, cause error) {
	if s.slack == nil || s.slackChan == "" {
		return
	}
	text := fmt.Sprintf("MANUAL INTERVENTION REQUIRED: rollback failed for reward %s (account %s, amount %s): %s",
		reward.RewardID, reward.AccountID, reward.Amount, cause)
	_, _, err := s.slack.PostMessage(s.slackChan, slack.MsgOptionText(text, false))
	if err != nil {
		s.logger.WithError(err).Warn("failed to post rollback-failure alert to slack")
	}
}

// FlushAuditLog drains the distribution audit ring to w as newline-
// delimited JSON, one object per record, and returns how many records
// were written. Intended for periodic background flushing to durable
// storage rather than relying on the bounded in-memory ring alone.
func (s *Settlement) FlushAuditLog(w io.Writer) (int, error) {
	if s.auditRing == nil {
		return 0, nil
	}
	n := s.auditRing.Len()
	if n == 0 {
		return 0, nil
	}
	if err := s.auditRing.FlushJSON(w); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Settlement) recordAudit(rewardID, status, detail string) {
	if s.auditRing == nil {
		return
	}
	s.auditRing.Append(audit.Record{
		ID: uuid.NewString(), Subject: rewardID, Event: status,
		Detail: detail, RecordedAt: time.Now(),
	})
}

func hoursSince(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return time.Since(t).Hours()
}
