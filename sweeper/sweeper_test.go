package sweeper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository/models"
)

func newTestRouter(t *testing.T) *repository.ShardRouter {
	t.Helper()
	router := repository.NewShardRouter(nil)
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "send_pending.db")), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, router.RegisterShard(repository.InstanceSendPending, repository.DefaultKey, db))
	return router
}

func insertPending(t *testing.T, router *repository.ShardRouter, id string, createdAt time.Time) {
	t.Helper()
	rerr := router.InsertTransaction(repository.InstanceSendPending, repository.DefaultKey, &models.Transaction{
		TransactionID:        id,
		Sender:               "alice",
		Receiver:             "bob",
		SenderMunicipality:   "Asia-Tokyo",
		ReceiverMunicipality: "Europe-London",
		ReceiverMunicipalID:  "Europe-London",
		Status:               models.StatusSendPending,
		CreatedAt:            createdAt,
		UpdatedAt:            createdAt,
	})
	require.Nil(t, rerr)
}

func TestRunOnceExpiresOnlyStale(t *testing.T) {
	router := newTestRouter(t)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ttl := 180 * 24 * time.Hour

	insertPending(t, router, "tx-stale", now.Add(-ttl-time.Hour))
	insertPending(t, router, "tx-fresh", now.Add(-time.Hour))

	s := New(router, repository.DefaultKey, ttl, time.Hour, nil)
	s.now = func() time.Time { return now }

	require.EqualValues(t, 1, s.RunOnce(context.Background()))

	_, rerr := router.FindTransaction(repository.InstanceSendPending, repository.DefaultKey, "tx-stale")
	require.NotNil(t, rerr)
	require.Equal(t, repository.CodeEntityNotFound, rerr.Code)
	_, rerr = router.FindTransaction(repository.InstanceSendPending, repository.DefaultKey, "tx-fresh")
	require.Nil(t, rerr)

	// A second pass finds nothing left to sweep.
	require.EqualValues(t, 0, s.RunOnce(context.Background()))
}

func TestRunOnceHonorsCancelledContext(t *testing.T) {
	router := newTestRouter(t)
	now := time.Now().UTC()
	insertPending(t, router, "tx-stale", now.Add(-400*24*time.Hour))

	s := New(router, repository.DefaultKey, 180*24*time.Hour, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.EqualValues(t, 0, s.RunOnce(ctx))
	_, rerr := router.FindTransaction(repository.InstanceSendPending, repository.DefaultKey, "tx-stale")
	require.Nil(t, rerr)
}

func TestStartStop(t *testing.T) {
	router := newTestRouter(t)
	s := New(router, repository.DefaultKey, 180*24*time.Hour, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Stop()
}
