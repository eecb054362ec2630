// Geo-bucket cache: one entry per coarse cell (~1.1 km), holding the ids of
// the nearest records seen during the last online refresh near that cell.
// Entries are overwritten wholesale, never merged; staleness is judged by
// the caller via the stored timestamp.
package kv

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

// ReadTopIDs returns the ordered id list for a bucket key, or an empty
// slice when the cell has never been written.
func (s *Store) ReadTopIDs(bucketKey string) ([]string, error) {
	b, ok, err := s.ReadBucket(bucketKey)
	if err != nil || !ok {
		return []string{}, err
	}
	return b.IDs, nil
}

// ReadBucket returns the full bucket entry and whether it exists.
func (s *Store) ReadBucket(bucketKey string) (domain.GeoBucket, bool, error) {
	var out domain.GeoBucket
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ok, err = getJSON(tx, bucketGeo, bucketKey, &out)
		return err
	})
	if !ok {
		return domain.GeoBucket{Key: bucketKey}, false, err
	}
	return out, true, err
}

// WriteTopIDs overwrites the bucket entry for a cell with the given ordered
// ids and timestamp. Pure overwrite semantics: whatever was there before is
// gone.
func (s *Store) WriteTopIDs(bucketKey string, ids []string, ts time.Time) error {
	entry := domain.GeoBucket{Key: bucketKey, IDs: ids, UpdatedAt: ts}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketGeo, bucketKey, entry)
	})
}

// ReadTimestamp returns the last write time of a cell, zero when unknown.
func (s *Store) ReadTimestamp(bucketKey string) (time.Time, error) {
	b, _, err := s.ReadBucket(bucketKey)
	return b.UpdatedAt, err
}
