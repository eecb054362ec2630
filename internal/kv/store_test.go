package kv

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "kv.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strp(s string) *string { return &s }

func TestOpen_CreatesNamespaces(t *testing.T) {
	s := newTestStore(t)

	// Fresh file: every namespace readable without errors, empty results.
	ids, err := s.ReadTopIDs("4.65_-74.05")
	if err != nil {
		t.Fatalf("ReadTopIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no ids in a fresh store, got %v", ids)
	}
	if _, err := s.ReadPolicy(); err != nil {
		t.Fatalf("ReadPolicy: %v", err)
	}
	if _, err := s.ReadProfile("a@b.co"); err != nil {
		t.Fatalf("ReadProfile: %v", err)
	}
	set, err := s.Flag("seen")
	if err != nil || set {
		t.Fatalf("Flag on fresh store = (%v, %v), want (false, nil)", set, err)
	}
}

func TestFlag_OneShotLatch(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetFlag("device_distribution_reported"); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	set, err := s.Flag("device_distribution_reported")
	if err != nil {
		t.Fatalf("Flag: %v", err)
	}
	if !set {
		t.Fatal("expected flag to be set")
	}

	// Setting again is a no-op, not an error.
	if err := s.SetFlag("device_distribution_reported"); err != nil {
		t.Fatalf("SetFlag twice: %v", err)
	}

	other, err := s.Flag("something_else")
	if err != nil || other {
		t.Fatalf("unrelated flag = (%v, %v), want (false, nil)", other, err)
	}
}

func TestBuckets_WriteThenRead(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	ids := []string{"e3", "e1", "e5"}
	if err := s.WriteTopIDs("4.65_-74.05", ids, ts); err != nil {
		t.Fatalf("WriteTopIDs: %v", err)
	}

	got, err := s.ReadTopIDs("4.65_-74.05")
	if err != nil {
		t.Fatalf("ReadTopIDs: %v", err)
	}
	if !reflect.DeepEqual(got, ids) {
		t.Fatalf("ReadTopIDs = %v, want %v", got, ids)
	}

	when, err := s.ReadTimestamp("4.65_-74.05")
	if err != nil {
		t.Fatalf("ReadTimestamp: %v", err)
	}
	if !when.Equal(ts) {
		t.Fatalf("ReadTimestamp = %v, want %v", when, ts)
	}
}

func TestBuckets_OverwriteIsWholesale(t *testing.T) {
	s := newTestStore(t)

	if err := s.WriteTopIDs("4.65_-74.05", []string{"old1", "old2", "old3"}, time.Now()); err != nil {
		t.Fatalf("first write: %v", err)
	}
	ts := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	if err := s.WriteTopIDs("4.65_-74.05", []string{"new1"}, ts); err != nil {
		t.Fatalf("second write: %v", err)
	}

	b, ok, err := s.ReadBucket("4.65_-74.05")
	if err != nil {
		t.Fatalf("ReadBucket: %v", err)
	}
	if !ok {
		t.Fatal("expected bucket to exist")
	}
	if !reflect.DeepEqual(b.IDs, []string{"new1"}) {
		t.Fatalf("IDs = %v, want the new list only", b.IDs)
	}
	if !b.UpdatedAt.Equal(ts) {
		t.Fatalf("UpdatedAt = %v, want %v", b.UpdatedAt, ts)
	}
}

func TestBuckets_MissingCell(t *testing.T) {
	s := newTestStore(t)

	b, ok, err := s.ReadBucket("0.00_0.00")
	if err != nil {
		t.Fatalf("ReadBucket: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an unwritten cell")
	}
	if b.Key != "0.00_0.00" || len(b.IDs) != 0 {
		t.Fatalf("unexpected empty-bucket shape: %+v", b)
	}

	when, err := s.ReadTimestamp("0.00_0.00")
	if err != nil {
		t.Fatalf("ReadTimestamp: %v", err)
	}
	if !when.IsZero() {
		t.Fatalf("expected zero timestamp, got %v", when)
	}
}

func TestPolicy_DefaultsWhenUnwritten(t *testing.T) {
	s := newTestStore(t)

	p, err := s.ReadPolicy()
	if err != nil {
		t.Fatalf("ReadPolicy: %v", err)
	}
	want := domain.DefaultPolicy()
	if !reflect.DeepEqual(p, want) {
		t.Fatalf("ReadPolicy = %+v, want defaults %+v", p, want)
	}
}

func TestPolicy_UpdateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	err := s.UpdatePolicy(func(p domain.PolicyMeta) domain.PolicyMeta {
		p.LastRefreshAt = at
		p.LastLat = 4.6486
		p.LastLng = -74.0522
		p.LastRemoteCount = 42
		return p
	})
	if err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}

	p, err := s.ReadPolicy()
	if err != nil {
		t.Fatalf("ReadPolicy: %v", err)
	}
	if !p.LastRefreshAt.Equal(at) || p.LastLat != 4.6486 || p.LastLng != -74.0522 || p.LastRemoteCount != 42 {
		t.Fatalf("unexpected policy after update: %+v", p)
	}
	// Untouched knobs keep their defaults.
	if !p.AutoRefreshEnabled || p.MoveDistanceM != 250 || p.RefreshMinInterval != 10*time.Second {
		t.Fatalf("defaults were clobbered: %+v", p)
	}
}

func TestPolicy_SequentialUpdatesCompose(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpdatePolicy(func(p domain.PolicyMeta) domain.PolicyMeta {
		p.LastRemoteCount = 7
		return p
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := s.UpdatePolicy(func(p domain.PolicyMeta) domain.PolicyMeta {
		p.AutoRefreshEnabled = false
		return p
	}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	p, err := s.ReadPolicy()
	if err != nil {
		t.Fatalf("ReadPolicy: %v", err)
	}
	if p.LastRemoteCount != 7 || p.AutoRefreshEnabled {
		t.Fatalf("updates did not compose: %+v", p)
	}
}
