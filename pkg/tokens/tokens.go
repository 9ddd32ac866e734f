// Package tokens defines the TokenSystem port (C3): transferring value
// between accounts and reading a node operator's staking state for reward
// settlement.
package tokens

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
)

// System is the TokenSystem port.
type System interface {
	Transfer(ctx context.Context, fromAccount, toAccount string, amount decimal.Decimal) error
	StakedBalance(ctx context.Context, account string) (decimal.Decimal, error)
	LastRewardTime(ctx context.Context, account string) (time.Time, error)
}

type account struct {
	balance        decimal.Decimal
	staked         decimal.Decimal
	lastRewardTime time.Time
}

// InMemorySystem is the reference TokenSystem implementation: balances
// keyed by account id, guarded by a mutex, amounts held as decimal.Decimal
// throughout to avoid floating-point reward drift.
type InMemorySystem struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

// NewInMemorySystem builds an empty token system.
func NewInMemorySystem() *InMemorySystem {
	return &InMemorySystem{accounts: make(map[string]*account)}
}

func (s *InMemorySystem) get(id string) *account {
	a, ok := s.accounts[id]
	if !ok {
		a = &account{balance: decimal.Zero, staked: decimal.Zero}
		s.accounts[id] = a
	}
	return a
}

// Seed sets an account's initial balance and staked amount, for tests and
// operator bootstrapping.
func (s *InMemorySystem) Seed(accountID string, balance, staked decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(accountID)
	a.balance = balance
	a.staked = staked
}

// Transfer moves amount from one account to another, debiting and
// crediting atomically under the same lock. Negative or zero amounts are
// rejected.
func (s *InMemorySystem) Transfer(_ context.Context, fromAccount, toAccount string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return appErrors.NewValidationError("transfer amount must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.get(fromAccount)
	if from.balance.LessThan(amount) {
		return appErrors.Newf(appErrors.ErrorTypeInsufficientCapacity,
			"account %s has insufficient balance for transfer of %s", fromAccount, amount)
	}
	to := s.get(toAccount)
	from.balance = from.balance.Sub(amount)
	to.balance = to.balance.Add(amount)
	to.lastRewardTime = time.Now()
	return nil
}

// StakedBalance returns the account's currently staked amount.
func (s *InMemorySystem) StakedBalance(_ context.Context, accountID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return decimal.Zero, nil
	}
	return a.staked, nil
}

// LastRewardTime returns the time the account last received a reward
// transfer, or the zero time if it has never received one.
func (s *InMemorySystem) LastRewardTime(_ context.Context, accountID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return time.Time{}, nil
	}
	return a.lastRewardTime, nil
}

// BreakerSystem wraps a System in a circuit breaker so repeated ledger
// failures fail fast during reward settlement instead of blocking the
// cleanup cycle.
type BreakerSystem struct {
	inner   System
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerSystem wraps inner with a named circuit breaker.
func NewBreakerSystem(inner System) *BreakerSystem {
	settings := gobreaker.Settings{
		Name:        "token-system",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return &BreakerSystem{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerSystem) Transfer(ctx context.Context, fromAccount, toAccount string, amount decimal.Decimal) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.inner.Transfer(ctx, fromAccount, toAccount, amount)
	})
	return err
}

func (b *BreakerSystem) StakedBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.StakedBalance(ctx, account)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return result.(decimal.Decimal), nil
}

func (b *BreakerSystem) LastRewardTime(ctx context.Context, account string) (time.Time, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.LastRewardTime(ctx, account)
	})
	if err != nil {
		return time.Time{}, err
	}
	return result.(time.Time), nil
}
