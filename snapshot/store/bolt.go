package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/gonzalop/tunnelcheck/snapshot"
)

var bucketSnapshots = []byte("snapshots")

// BoltStore keeps master copies as JSON values in a bbolt database, keyed by
// name.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the database at path. bbolt holds an exclusive
// file lock, so a second process waits up to one second and then fails.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketSnapshots, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Save stores s under name, replacing any previous copy.
func (b *BoltStore) Save(name string, s *snapshot.Snapshot) error {
	if err := validateName(name); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(name), data)
	})
}

// Load returns the copy stored under name.
func (b *BoltStore) Load(name string) (*snapshot.Snapshot, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var s snapshot.Snapshot
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to decode %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns the stored names in key order.
func (b *BoltStore) List() ([]string, error) {
	var names []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// Delete removes the copy stored under name.
func (b *BoltStore) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		if bucket.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return bucket.Delete([]byte(name))
	})
}

// Close releases the database file.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
