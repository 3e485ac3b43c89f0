// Package repository routes transactions to their backing shard. A shard is
// an addressable collection keyed by (instance type, continent) holding
// transactions in one lifecycle phase; terminal transactions migrate into a
// per-continent analytics archive.
package repository

import (
	"fmt"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository/models"
)

// Operational instance types. Analytics is backed by the archive, not a SQL
// shard.
const (
	InstanceSend        = "send"
	InstanceSendPending = "send_pending"
	InstanceAnalytics   = "analytics"
)

// DefaultKey is the fallback entry consulted when no exact continent match
// exists under an instance type.
const DefaultKey = "Default"

const (
	connectAttempts     = 10
	connectRetryDelay   = 2 * time.Second
	migrateDeleteTries  = 3
	migrateRetryBackoff = 100 * time.Millisecond
)

// ShardRouter resolves (instance type, continent) pairs to store handles and
// performs every read/write/migrate against them.
type ShardRouter struct {
	shards   map[string]map[string]*gorm.DB
	archives map[string]*Archive
	logger   cmtlog.Logger
}

// NewShardRouter returns an empty router; shards and archives are registered
// at startup and never change afterwards, so reads need no locking.
func NewShardRouter(log cmtlog.Logger) *ShardRouter {
	if log == nil {
		log = cmtlog.NewNopLogger()
	}
	return &ShardRouter{
		shards:   make(map[string]map[string]*gorm.DB),
		archives: make(map[string]*Archive),
		logger:   log,
	}
}

// RegisterShard attaches an opened store handle and migrates the transaction
// schema onto it.
func (r *ShardRouter) RegisterShard(instanceType, continent string, db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Transaction{}); err != nil {
		return fmt.Errorf("migrating shard %s/%s: %w", instanceType, continent, err)
	}
	if r.shards[instanceType] == nil {
		r.shards[instanceType] = make(map[string]*gorm.DB)
	}
	r.shards[instanceType][continent] = db
	return nil
}

// ConnectShards opens a postgres connection for every configured DSN,
// retrying each a few times before giving up.
func (r *ShardRouter) ConnectShards(dsns map[string]map[string]string) error {
	for instanceType, continents := range dsns {
		for continent, dsn := range continents {
			db, err := r.connect(dsn)
			if err != nil {
				return fmt.Errorf("connecting shard %s/%s: %w", instanceType, continent, err)
			}
			if err := r.RegisterShard(instanceType, continent, db); err != nil {
				return err
			}
			r.logger.Info("connected shard", "instance_type", instanceType, "continent", continent)
		}
	}
	return nil
}

func (r *ShardRouter) connect(dsn string) (*gorm.DB, error) {
	var db *gorm.DB
	var err error
	for i := range connectAttempts {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Discard})
		if err == nil {
			return db, nil
		}
		r.logger.Error("shard connection attempt failed", "attempt", i+1, "err", err)
		time.Sleep(connectRetryDelay)
	}
	return nil, err
}

// RegisterArchive attaches an analytics archive for a continent.
func (r *ShardRouter) RegisterArchive(continent string, archive *Archive) {
	r.archives[continent] = archive
}

// OpenArchives opens a badger archive for every configured path.
func (r *ShardRouter) OpenArchives(paths map[string]string) error {
	for continent, path := range paths {
		archive, err := OpenArchive(path)
		if err != nil {
			return err
		}
		r.RegisterArchive(continent, archive)
		r.logger.Info("opened analytics archive", "continent", continent, "path", path)
	}
	return nil
}

// ResolveShard returns the store for (instanceType, continent): exact match
// first, then the instance type's Default entry. Missing both is a fatal
// configuration error, not a transient failure.
func (r *ShardRouter) ResolveShard(instanceType, continent string) (*gorm.DB, *Error) {
	continents, ok := r.shards[instanceType]
	if !ok {
		return nil, NewError(CodeShardNotFound, "no shards for instance type",
			fmt.Sprintf("instance type %q has no shard map", instanceType))
	}
	if db, ok := continents[continent]; ok {
		return db, nil
	}
	if db, ok := continents[DefaultKey]; ok {
		return db, nil
	}
	return nil, NewError(CodeShardNotFound, "shard not found",
		fmt.Sprintf("no shard for instance type %q and continent %q", instanceType, continent))
}

// ResolveArchive returns the analytics archive for a continent, falling back
// to the Default archive.
func (r *ShardRouter) ResolveArchive(continent string) (*Archive, *Error) {
	if archive, ok := r.archives[continent]; ok {
		return archive, nil
	}
	if archive, ok := r.archives[DefaultKey]; ok {
		return archive, nil
	}
	return nil, NewError(CodeShardNotFound, "analytics archive not found",
		fmt.Sprintf("no archive for continent %q", continent))
}

// Validate checks that every instance type a running node needs resolves at
// least to a Default shard. Called at startup so misconfiguration fails fast.
func (r *ShardRouter) Validate() error {
	for _, instanceType := range []string{InstanceSend, InstanceSendPending} {
		if _, err := r.ResolveShard(instanceType, DefaultKey); err != nil {
			return err
		}
	}
	if _, err := r.ResolveArchive(DefaultKey); err != nil {
		return err
	}
	return nil
}

// InsertTransaction writes a transaction into its shard.
func (r *ShardRouter) InsertTransaction(instanceType, continent string, tx *models.Transaction) *Error {
	db, rerr := r.ResolveShard(instanceType, continent)
	if rerr != nil {
		return rerr
	}
	if err := db.Create(tx).Error; err != nil {
		return wrapDBError(err, "failed to insert transaction")
	}
	return nil
}

// FindTransaction fetches a transaction by id from one shard.
func (r *ShardRouter) FindTransaction(instanceType, continent, transactionID string) (*models.Transaction, *Error) {
	db, rerr := r.ResolveShard(instanceType, continent)
	if rerr != nil {
		return nil, rerr
	}
	var tx models.Transaction
	err := db.Where("transaction_id = ?", transactionID).First(&tx).Error
	if err != nil {
		return nil, wrapDBError(err, fmt.Sprintf("transaction %s not found", transactionID))
	}
	return &tx, nil
}

// LookupOperational finds a transaction in whichever operational shard holds
// it, checking send_pending first since most of the lifecycle lives there.
func (r *ShardRouter) LookupOperational(continent, transactionID string) (*models.Transaction, string, *Error) {
	for _, instanceType := range []string{InstanceSendPending, InstanceSend} {
		tx, err := r.FindTransaction(instanceType, continent, transactionID)
		if err == nil {
			return tx, instanceType, nil
		}
		if err.Code != CodeEntityNotFound {
			return nil, "", err
		}
	}
	return nil, "", NewError(CodeEntityNotFound, "transaction not found",
		fmt.Sprintf("transaction %s not found in any operational shard", transactionID))
}

// FindPendingForReceiver lists send_pending transactions addressed to a
// receiver at a municipality.
func (r *ShardRouter) FindPendingForReceiver(continent, receiver, receiverMunicipalID string) ([]models.Transaction, *Error) {
	db, rerr := r.ResolveShard(InstanceSendPending, continent)
	if rerr != nil {
		return nil, rerr
	}
	var txs []models.Transaction
	err := db.
		Where("receiver = ? AND receiver_municipal_id = ? AND status = ?",
			receiver, receiverMunicipalID, models.StatusSendPending).
		Order("created_at").
		Find(&txs).Error
	if err != nil {
		return nil, wrapDBError(err, "failed to list pending transactions")
	}
	return txs, nil
}

// CountByReceiverStatus counts a receiver's transactions in one status on the
// send_pending shard.
func (r *ShardRouter) CountByReceiverStatus(continent, receiver, status string) (int64, *Error) {
	db, rerr := r.ResolveShard(InstanceSendPending, continent)
	if rerr != nil {
		return 0, rerr
	}
	var count int64
	err := db.Model(&models.Transaction{}).
		Where("receiver = ? AND status = ?", receiver, status).
		Count(&count).Error
	if err != nil {
		return 0, wrapDBError(err, "failed to count receiver transactions")
	}
	return count, nil
}

// UpdateStatusConditional applies from -> to keyed on the current status, so
// of two concurrent conflicting transitions exactly one wins and the other
// observes a no-op. Returns whether this call won.
func (r *ShardRouter) UpdateStatusConditional(instanceType, continent, transactionID, from, to string, now time.Time) (bool, *Error) {
	db, rerr := r.ResolveShard(instanceType, continent)
	if rerr != nil {
		return false, rerr
	}
	res := db.Model(&models.Transaction{}).
		Where("transaction_id = ? AND status = ?", transactionID, from).
		Updates(map[string]interface{}{"status": to, "updated_at": now.UTC()})
	if res.Error != nil {
		return false, wrapDBError(res.Error, "failed to update transaction status")
	}
	return res.RowsAffected == 1, nil
}

// MarkRejected moves from -> rejected and records the reason in details, in
// one conditional write. Returns whether this call won.
func (r *ShardRouter) MarkRejected(instanceType, continent, transactionID, from, reason string, now time.Time) (bool, *Error) {
	db, rerr := r.ResolveShard(instanceType, continent)
	if rerr != nil {
		return false, rerr
	}
	fields := map[string]interface{}{"status": models.StatusRejected, "updated_at": now.UTC()}
	if reason != "" {
		fields["details"] = reason
	}
	res := db.Model(&models.Transaction{}).
		Where("transaction_id = ? AND status = ?", transactionID, from).
		Updates(fields)
	if res.Error != nil {
		return false, wrapDBError(res.Error, "failed to reject transaction")
	}
	return res.RowsAffected == 1, nil
}

// DeleteTransaction removes a transaction from one shard by id.
func (r *ShardRouter) DeleteTransaction(instanceType, continent, transactionID string) *Error {
	db, rerr := r.ResolveShard(instanceType, continent)
	if rerr != nil {
		return rerr
	}
	err := db.Where("transaction_id = ?", transactionID).Delete(&models.Transaction{}).Error
	if err != nil {
		return wrapDBError(err, "failed to delete transaction")
	}
	return nil
}

// MoveTransaction relocates a transaction between operational shards,
// stamping the new status on the way. The insert ignores conflicts and the
// delete is keyed by id, so a retried move is a no-op: the id exists in
// exactly one shard at any instant.
func (r *ShardRouter) MoveTransaction(fromInstance, toInstance, continent, transactionID, newStatus string, now time.Time) *Error {
	tx, err := r.FindTransaction(fromInstance, continent, transactionID)
	if err != nil {
		if err.Code == CodeEntityNotFound {
			// Already moved; nothing to do if it landed on the other side.
			if _, findErr := r.FindTransaction(toInstance, continent, transactionID); findErr == nil {
				return nil
			}
		}
		return err
	}

	toDB, rerr := r.ResolveShard(toInstance, continent)
	if rerr != nil {
		return rerr
	}
	tx.Status = newStatus
	tx.UpdatedAt = now.UTC()
	if err := toDB.Clauses(clause.OnConflict{DoNothing: true}).Create(tx).Error; err != nil {
		return wrapDBError(err, "failed to move transaction")
	}
	return r.DeleteTransaction(fromInstance, continent, transactionID)
}

// SweepExpired finalizes send_pending transactions created before the
// threshold as expired and removes them. Both steps run in one store
// transaction and re-check the predicate, so a concurrent legitimate status
// update is never clobbered.
func (r *ShardRouter) SweepExpired(continent string, before, now time.Time) (int64, *Error) {
	db, rerr := r.ResolveShard(InstanceSendPending, continent)
	if rerr != nil {
		return 0, rerr
	}

	var swept int64
	err := db.Transaction(func(dbTx *gorm.DB) error {
		res := dbTx.Model(&models.Transaction{}).
			Where("status = ? AND created_at < ?", models.StatusSendPending, before.UTC()).
			Updates(map[string]interface{}{"status": models.StatusExpired, "updated_at": now.UTC()})
		if res.Error != nil {
			return res.Error
		}
		swept = res.RowsAffected
		return dbTx.
			Where("status = ? AND created_at < ?", models.StatusExpired, before.UTC()).
			Delete(&models.Transaction{}).Error
	})
	if err != nil {
		return 0, wrapDBError(err, "failed to sweep expired transactions")
	}
	return swept, nil
}

// MigrateToAnalytics copies a terminal transaction into the analytics archive
// for the transaction's sender continent, then deletes the operational copy.
// The shard lookup runs against shardContinent (where the caller found the
// record); the archive is always the sender continent's, so a cross-continent
// transfer lands in the archive of the side that initiated it. The copy is
// keyed by transaction_id so a retried migration leaves one archive record.
// On a delete failure only the delete is retried, never the copy:
// duplication toward the archive is acceptable, loss is not.
func (r *ShardRouter) MigrateToAnalytics(instanceType, shardContinent, senderContinent, transactionID string) *Error {
	tx, err := r.FindTransaction(instanceType, shardContinent, transactionID)
	if err != nil {
		if err.Code == CodeEntityNotFound {
			// A retried migration: confirm the sender archive already holds it.
			archive, rerr := r.ResolveArchive(senderContinent)
			if rerr != nil {
				return rerr
			}
			if archived, aerr := archive.Get(transactionID); aerr == nil && archived != nil {
				return nil
			}
		}
		return err
	}

	if tx.SenderContinent != "" {
		senderContinent = tx.SenderContinent
	}
	archive, rerr := r.ResolveArchive(senderContinent)
	if rerr != nil {
		return rerr
	}
	if aerr := archive.Put(tx); aerr != nil {
		return NewError(CodeMigration, "failed to archive transaction", aerr.Error())
	}

	var derr *Error
	for i := range migrateDeleteTries {
		derr = r.DeleteTransaction(instanceType, shardContinent, transactionID)
		if derr == nil {
			return nil
		}
		r.logger.Error("migration delete failed, retrying", "transaction_id", transactionID, "attempt", i+1, "err", derr)
		time.Sleep(migrateRetryBackoff)
	}
	return NewError(CodeMigration, "archived but failed to delete operational copy", derr.Error())
}

// Close releases the archives. SQL handles are owned by their pools.
func (r *ShardRouter) Close() error {
	var firstErr error
	for continent, archive := range r.archives {
		if err := archive.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing archive %s: %w", continent, err)
		}
	}
	return firstErr
}
