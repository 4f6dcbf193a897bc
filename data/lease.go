// Package data provides the coordination store used to guarantee that at
// most one orchestrator loop runs against a given database.
package data

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"untestables/model"
	"untestables/utils"
)

// LeaseStore is the coordination interface the orchestrator needs: an
// expiring exclusive lease with compare-and-set renewal and release.
type LeaseStore interface {
	AcquireLease(ctx context.Context, owner string, expiry time.Duration) (bool, error)
	RenewLease(ctx context.Context, owner string, expiry time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, owner string) error
	LeaseOwner(ctx context.Context) (string, error)
}

// RedisLeaseStore implements LeaseStore on a single Redis key.
type RedisLeaseStore struct {
	rds       *redis.Client
	namespace string
}

// NewRedisLeaseStore creates a lease store scoped to a namespace so separate
// deployments sharing a Redis instance do not contend.
func NewRedisLeaseStore(client *redis.Client, namespace string) *RedisLeaseStore {
	return &RedisLeaseStore{rds: client, namespace: namespace}
}

func (s *RedisLeaseStore) key() string {
	return fmt.Sprintf(model.OrchestratorLeaseKeyFmt, s.namespace)
}

// AcquireLease takes the lease if nobody holds it.
func (s *RedisLeaseStore) AcquireLease(ctx context.Context, owner string, expiry time.Duration) (bool, error) {
	ok, err := s.rds.SetNX(ctx, s.key(), owner, expiry).Result()
	return ok, errors.Wrap(err, "acquiring orchestrator lease")
}

// RenewLease extends the lease only while the caller still owns it.
func (s *RedisLeaseStore) RenewLease(ctx context.Context, owner string, expiry time.Duration) (bool, error) {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
	result, err := s.rds.Eval(ctx, script, []string{s.key()}, owner, expiry.Milliseconds()).Result()
	if err != nil {
		return false, errors.Wrap(err, "renewing orchestrator lease")
	}
	return result.(int64) == 1, nil
}

// ReleaseLease deletes the lease only while the caller still owns it.
func (s *RedisLeaseStore) ReleaseLease(ctx context.Context, owner string) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := s.rds.Eval(ctx, script, []string{s.key()}, owner).Result()
	return errors.Wrap(err, "releasing orchestrator lease")
}

// LeaseOwner returns the current owner, or empty when the lease is free.
func (s *RedisLeaseStore) LeaseOwner(ctx context.Context) (string, error) {
	owner, err := s.rds.Get(ctx, s.key()).Result()
	if err == redis.Nil {
		return "", nil
	}
	return owner, errors.Wrap(err, "reading orchestrator lease owner")
}

// Keeper holds a lease for the lifetime of an orchestrator run, renewing in
// the background at a third of the expiry.
type Keeper struct {
	store  LeaseStore
	owner  string
	expiry time.Duration
	logger utils.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewKeeper creates a lease keeper for this process identity.
func NewKeeper(store LeaseStore, expiry time.Duration, logger utils.Logger) *Keeper {
	if expiry < 3*time.Second {
		expiry = 3 * time.Second
	}
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}
	return &Keeper{
		store:  store,
		owner:  utils.GenerateNodeID(),
		expiry: expiry,
		logger: logger,
	}
}

// Start acquires the lease and begins background renewal. It fails when
// another orchestrator already holds the lease.
func (k *Keeper) Start(ctx context.Context) error {
	ok, err := k.store.AcquireLease(ctx, k.owner, k.expiry)
	if err != nil {
		return err
	}
	if !ok {
		holder, _ := k.store.LeaseOwner(ctx)
		return errors.Errorf("orchestrator lease is held by %q", holder)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.done = make(chan struct{})
	go k.renewLoop(renewCtx)

	k.logger.Infof("orchestrator lease acquired by %s", k.owner)
	return nil
}

// Stop ends renewal and releases the lease.
func (k *Keeper) Stop(ctx context.Context) {
	if k.cancel == nil {
		return
	}
	k.cancel()
	<-k.done

	if err := k.store.ReleaseLease(ctx, k.owner); err != nil {
		k.logger.Warnf("releasing orchestrator lease failed: %v", err)
	}
}

func (k *Keeper) renewLoop(ctx context.Context) {
	defer close(k.done)

	ticker := time.NewTicker(k.expiry / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := k.store.RenewLease(ctx, k.owner, k.expiry)
			if err != nil {
				k.logger.Warnf("renewing orchestrator lease failed: %v", err)
				continue
			}
			if !renewed {
				k.logger.Errorf("orchestrator lease lost by %s", k.owner)
				return
			}
		}
	}
}
