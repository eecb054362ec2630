// Refresh policy metadata: knobs plus the anchors of the last successful
// refresh. Read once at orchestrator startup, rewritten after every
// refresh. Readers tolerate eventual consistency with in-flight updates.
package kv

import (
	bolt "go.etcd.io/bbolt"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

const policyKey = "meta"

// ReadPolicy returns the stored policy, or the defaults when nothing has
// been written yet.
func (s *Store) ReadPolicy() (domain.PolicyMeta, error) {
	out := domain.DefaultPolicy()
	err := s.db.View(func(tx *bolt.Tx) error {
		_, err := getJSON(tx, bucketPolicy, policyKey, &out)
		return err
	})
	return out, err
}

// UpdatePolicy applies mut to the current policy inside one write
// transaction, so concurrent updates never interleave field-by-field.
func (s *Store) UpdatePolicy(mut func(domain.PolicyMeta) domain.PolicyMeta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cur := domain.DefaultPolicy()
		if _, err := getJSON(tx, bucketPolicy, policyKey, &cur); err != nil {
			return err
		}
		return putJSON(tx, bucketPolicy, policyKey, mut(cur))
	})
}
