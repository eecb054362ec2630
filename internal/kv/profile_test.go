package kv

import (
	"reflect"
	"testing"
	"time"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

func TestProfile_ZeroStateWhenUnwritten(t *testing.T) {
	s := newTestStore(t)

	st, err := s.ReadProfile("nobody@example.com")
	if err != nil {
		t.Fatalf("ReadProfile: %v", err)
	}
	if st.Cached != nil || st.HasPendingSync() {
		t.Fatalf("expected zero state, got %+v", st)
	}
}

func TestProfile_CachedMirrorLeavesPendingSlotsAlone(t *testing.T) {
	s := newTestStore(t)
	user := "laura@example.com"

	if err := s.MergePendingPatch(user, domain.PendingPatch{About: strp("traveler")}); err != nil {
		t.Fatalf("MergePendingPatch: %v", err)
	}
	cached := domain.CachedProfile{
		DocID:     user,
		Name:      "Laura",
		Email:     user,
		CreatedAt: time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
		Languages: []string{"es", "en"},
	}
	if err := s.WriteCachedProfile(user, cached); err != nil {
		t.Fatalf("WriteCachedProfile: %v", err)
	}

	st, err := s.ReadProfile(user)
	if err != nil {
		t.Fatalf("ReadProfile: %v", err)
	}
	if st.Cached == nil || !reflect.DeepEqual(*st.Cached, cached) {
		t.Fatalf("cached mirror = %+v, want %+v", st.Cached, cached)
	}
	if st.PendingPatch.About == nil || *st.PendingPatch.About != "traveler" {
		t.Fatalf("pending patch was clobbered: %+v", st.PendingPatch)
	}
}

func TestProfile_MergePendingPatch_NewestFieldWins(t *testing.T) {
	s := newTestStore(t)
	user := "laura@example.com"

	// Three sequential offline edits: name, then about, then name again.
	patches := []domain.PendingPatch{
		{Name: strp("A")},
		{About: strp("B")},
		{Name: strp("C")},
	}
	for i, p := range patches {
		if err := s.MergePendingPatch(user, p); err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}

	st, err := s.ReadProfile(user)
	if err != nil {
		t.Fatalf("ReadProfile: %v", err)
	}
	got := st.PendingPatch
	if got.Name == nil || *got.Name != "C" {
		t.Fatalf("Name = %v, want C", got.Name)
	}
	if got.About == nil || *got.About != "B" {
		t.Fatalf("About = %v, want B", got.About)
	}
	if got.Languages != nil {
		t.Fatalf("Languages should stay untouched, got %v", *got.Languages)
	}
}

func TestProfile_ClearPendingPatch(t *testing.T) {
	s := newTestStore(t)
	user := "laura@example.com"

	if err := s.MergePendingPatch(user, domain.PendingPatch{Name: strp("X")}); err != nil {
		t.Fatalf("MergePendingPatch: %v", err)
	}
	if err := s.ClearPendingPatch(user); err != nil {
		t.Fatalf("ClearPendingPatch: %v", err)
	}

	st, err := s.ReadProfile(user)
	if err != nil {
		t.Fatalf("ReadProfile: %v", err)
	}
	if !st.PendingPatch.IsEmpty() {
		t.Fatalf("expected empty patch, got %+v", st.PendingPatch)
	}
}

func TestProfile_PhotoSlotReplacedNotAppended(t *testing.T) {
	s := newTestStore(t)
	user := "laura@example.com"

	if err := s.SetPendingPhotoPath(user, "/data/profile/pending_1.jpg"); err != nil {
		t.Fatalf("first SetPendingPhotoPath: %v", err)
	}
	if err := s.SetPendingPhotoPath(user, "/data/profile/pending_2.jpg"); err != nil {
		t.Fatalf("second SetPendingPhotoPath: %v", err)
	}

	st, err := s.ReadProfile(user)
	if err != nil {
		t.Fatalf("ReadProfile: %v", err)
	}
	if st.PendingPhotoPath != "/data/profile/pending_2.jpg" {
		t.Fatalf("photo slot = %q, want the newest path only", st.PendingPhotoPath)
	}
	if !st.HasPendingSync() {
		t.Fatal("expected HasPendingSync with a photo queued")
	}

	if err := s.ClearPendingPhotoPath(user); err != nil {
		t.Fatalf("ClearPendingPhotoPath: %v", err)
	}
	st, err = s.ReadProfile(user)
	if err != nil {
		t.Fatalf("ReadProfile: %v", err)
	}
	if st.HasPendingSync() {
		t.Fatalf("expected no pending sync after clear, got %+v", st)
	}
}

func TestProfile_UsersAreIsolated(t *testing.T) {
	s := newTestStore(t)

	if err := s.MergePendingPatch("a@example.com", domain.PendingPatch{Name: strp("A")}); err != nil {
		t.Fatalf("MergePendingPatch: %v", err)
	}

	st, err := s.ReadProfile("b@example.com")
	if err != nil {
		t.Fatalf("ReadProfile: %v", err)
	}
	if st.HasPendingSync() {
		t.Fatalf("user b inherited user a's patch: %+v", st)
	}
}
