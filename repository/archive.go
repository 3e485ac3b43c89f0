package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository/models"
)

// Archive is the terminal analytics store for completed transactions. It is
// append-mostly and keyed by transaction_id, so writing the same transaction
// twice leaves exactly one record.
type Archive struct {
	db *badger.DB
}

// OpenArchive opens (or creates) a badger-backed archive at path.
func OpenArchive(path string) (*Archive, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening archive at %s: %w", path, err)
	}
	return &Archive{db: db}, nil
}

// OpenInMemoryArchive opens an ephemeral archive, used in tests.
func OpenInMemoryArchive() (*Archive, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory archive: %w", err)
	}
	return &Archive{db: db}, nil
}

// Put stores a transaction keyed by its transaction_id. Re-putting the same
// id overwrites in place, which keeps migration retries idempotent.
func (a *Archive) Put(tx *models.Transaction) error {
	value, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encoding transaction %s: %w", tx.TransactionID, err)
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(tx.TransactionID), value)
	})
}

// Get fetches an archived transaction, or nil when absent.
func (a *Archive) Get(transactionID string) (*models.Transaction, error) {
	var tx *models.Transaction
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(transactionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			tx = &models.Transaction{}
			return json.Unmarshal(value, tx)
		})
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Count returns the number of archived transactions.
func (a *Archive) Count() (int, error) {
	count := 0
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close releases the underlying store.
func (a *Archive) Close() error {
	return a.db.Close()
}
