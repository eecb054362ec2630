// Locally mirrored profile state: the cached remote fields plus the two
// independent pending slots (field patch, photo path). At most one
// outstanding patch and one photo path exist per user; new edits merge into
// the existing patch field by field, newest wins.
package kv

import (
	bolt "go.etcd.io/bbolt"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

// ReadProfile returns the stored profile state for a user; the zero state
// when nothing has been written.
func (s *Store) ReadProfile(userID string) (domain.ProfileState, error) {
	var out domain.ProfileState
	err := s.db.View(func(tx *bolt.Tx) error {
		_, err := getJSON(tx, bucketProfile, userID, &out)
		return err
	})
	return out, err
}

// UpdateProfile applies mut to the stored state inside one write
// transaction.
func (s *Store) UpdateProfile(userID string, mut func(domain.ProfileState) domain.ProfileState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var cur domain.ProfileState
		if _, err := getJSON(tx, bucketProfile, userID, &cur); err != nil {
			return err
		}
		return putJSON(tx, bucketProfile, userID, mut(cur))
	})
}

// WriteCachedProfile replaces the cached mirror, leaving pending slots
// untouched.
func (s *Store) WriteCachedProfile(userID string, c domain.CachedProfile) error {
	return s.UpdateProfile(userID, func(st domain.ProfileState) domain.ProfileState {
		st.Cached = &c
		return st
	})
}

// MergePendingPatch folds a new patch into the outstanding one, newest
// non-nil field winning.
func (s *Store) MergePendingPatch(userID string, p domain.PendingPatch) error {
	return s.UpdateProfile(userID, func(st domain.ProfileState) domain.ProfileState {
		st.PendingPatch = st.PendingPatch.Merge(p)
		return st
	})
}

// ClearPendingPatch drops the outstanding patch.
func (s *Store) ClearPendingPatch(userID string) error {
	return s.UpdateProfile(userID, func(st domain.ProfileState) domain.ProfileState {
		st.PendingPatch = domain.PendingPatch{}
		return st
	})
}

// SetPendingPhotoPath records the durable local path of a chosen photo
// awaiting upload. A second call replaces the first: one slot per user.
func (s *Store) SetPendingPhotoPath(userID, path string) error {
	return s.UpdateProfile(userID, func(st domain.ProfileState) domain.ProfileState {
		st.PendingPhotoPath = path
		return st
	})
}

// ClearPendingPhotoPath empties the photo slot.
func (s *Store) ClearPendingPhotoPath(userID string) error {
	return s.SetPendingPhotoPath(userID, "")
}
