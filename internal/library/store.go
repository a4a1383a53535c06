package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/quickscan/internal/scan"
)

const (
	bucketName    = "library"
	collectionKey = "scans"
)

// BoltStore implements Store using BoltDB. The collection is kept as a
// single JSON array under one key.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the database at path. A file that is not a
// readable bolt database is moved aside to <path>.corrupt and replaced with
// an empty one.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := openBolt(path)
	if isCorrupt(err) {
		aside := path + ".corrupt"
		slog.Warn("Library database is unreadable, starting with an empty library", "path", path, "moved_to", aside, "error", err)
		if err := os.Rename(path, aside); err != nil {
			return nil, fmt.Errorf("moving corrupt database aside: %w", err)
		}
		db, err = openBolt(path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func openBolt(path string) (*bbolt.DB, error) {
	return bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
}

func isCorrupt(err error) bool {
	return errors.Is(err, bbolt.ErrInvalid) ||
		errors.Is(err, bbolt.ErrVersionMismatch) ||
		errors.Is(err, bbolt.ErrChecksum)
}

// LoadAll reads the whole collection. A missing key is an empty library.
func (b *BoltStore) LoadAll() ([]scan.Result, error) {
	results := make([]scan.Result, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(collectionKey))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &results); err != nil {
			return fmt.Errorf("unmarshaling library: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SaveAll writes the whole collection in one transaction
func (b *BoltStore) SaveAll(results []scan.Result) error {
	if results == nil {
		results = []scan.Result{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshaling library: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(collectionKey), data)
	})
}

// Close closes the database
func (b *BoltStore) Close() error {
	return b.db.Close()
}
