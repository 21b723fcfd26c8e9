package tokenstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// sessionBucket holds one key per record field.
var sessionBucket = []byte("session")

// BoltStore keeps the record in an embedded bbolt database.
// Every write is a single transaction, so readers never observe half a record.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time check to ensure BoltStore implements Backend
var _ Backend = (*BoltStore)(nil)

// NewBoltStore wraps an open bbolt database.
func NewBoltStore(db *bbolt.DB) *BoltStore {
	return &BoltStore{db: db}
}

// NewBoltStoreFromFile opens (or creates) a bbolt database at path.
func NewBoltStoreFromFile(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewBoltStore(db), nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) Read(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record := Record{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sessionBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if len(v) > 0 {
				record[string(k)] = string(v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (b *BoltStore) Write(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record = record.compact()
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(sessionBucket)
		if err != nil {
			return err
		}
		for _, key := range recordKeys {
			value, ok := record[key]
			if !ok {
				if err := bucket.Delete([]byte(key)); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put([]byte(key), []byte(value)); err != nil {
				return err
			}
		}
		return nil
	})
}
