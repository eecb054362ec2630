// Package kv implements the small durable key-value stores backing the
// offline cache tiers: the coarse geo-bucket index, the refresh policy
// metadata, the locally mirrored profile with its pending-write slots, and
// one-shot flags. Everything lives in a single bbolt file, one bucket per
// namespace, JSON-encoded values.
//
// bbolt gives the layer what the callers assume of it: single-writer
// transactions, crash safety, and concurrent readers. No extra locking is
// added here; concurrent writers to the same key get last-write-wins.
package kv

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketGeo     = []byte("geo_buckets")
	bucketPolicy  = []byte("policy_meta")
	bucketProfile = []byte("profile")
	bucketFlags   = []byte("flags")
)

// Store is a handle to the local key-value file. It is safe for concurrent
// use; bbolt serializes writers internally.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the key-value file and ensures all namespaces
// exist. The file is locked for the lifetime of the process.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketGeo, bucketPolicy, bucketProfile, bucketFlags} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init kv namespaces: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error { return s.db.Close() }

// Flag reports whether a one-shot flag has been set.
func (s *Store) Flag(key string) (bool, error) {
	var set bool
	err := s.db.View(func(tx *bolt.Tx) error {
		set = tx.Bucket(bucketFlags).Get([]byte(key)) != nil
		return nil
	})
	return set, err
}

// SetFlag durably sets a one-shot flag.
func (s *Store) SetFlag(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFlags).Put([]byte(key), []byte{1})
	})
}

func putJSON(tx *bolt.Tx, bucket []byte, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), raw)
}

// getJSON decodes the stored value into out; ok is false when absent.
func getJSON(tx *bolt.Tx, bucket []byte, key string, out any) (bool, error) {
	raw := tx.Bucket(bucket).Get([]byte(key))
	if raw == nil {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}
