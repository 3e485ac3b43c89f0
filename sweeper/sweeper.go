// Package sweeper finalizes abandoned send_pending transactions as expired
// and removes them once they outlive their TTL.
package sweeper

import (
	"context"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository"
)

// Sweeper periodically expires stale send_pending transactions on the shards
// of one continent.
type Sweeper struct {
	router    *repository.ShardRouter
	continent string
	ttl       time.Duration
	interval  time.Duration
	logger    cmtlog.Logger
	now       func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a sweeper for one continent. A transaction is stale once it has
// sat in send_pending for longer than ttl; the shard is checked every
// interval.
func New(router *repository.ShardRouter, continent string, ttl, interval time.Duration, logger cmtlog.Logger) *Sweeper {
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	return &Sweeper{
		router:    router,
		continent: continent,
		ttl:       ttl,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is called.
// One sweep runs immediately so a restart never waits a full interval to
// clear a backlog.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// RunOnce performs a single sweep pass and returns the number of transactions
// it expired.
func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	if ctx.Err() != nil {
		return 0
	}
	now := s.now()
	swept, err := s.router.SweepExpired(s.continent, now.Add(-s.ttl), now)
	if err != nil {
		s.logger.Error("expiry sweep failed", "continent", s.continent, "err", err)
		return 0
	}
	if swept > 0 {
		s.logger.Info("expired stale transactions", "continent", s.continent, "count", swept)
	}
	return swept
}
