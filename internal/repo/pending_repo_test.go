package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

func booking(expID string) domain.Booking {
	start := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	return domain.Booking{
		ExperienceID:  expID,
		TravelerEmail: "ana@example.com",
		StartAt:       start,
		EndAt:         start.Add(72 * time.Hour),
		PeopleCount:   2,
		AmountCOP:     90000,
	}
}

func TestEnqueuePendingBooking_PersistsSnapshot(t *testing.T) {
	db := newTestDB(t, &domain.PendingBooking{})
	ctx := context.Background()

	p, err := EnqueuePendingBooking(ctx, db, booking("e1"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if p.ID == "" || p.ExperienceID != "e1" || p.EnqueuedAt.IsZero() {
		t.Fatalf("unexpected row: %+v", p)
	}

	var got domain.PendingBooking
	if err := db.First(&got, "id = ?", p.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TravelerEmail != "ana@example.com" || got.PeopleCount != 2 {
		t.Fatalf("snapshot fields lost: %+v", got)
	}
}

// Duplicate submissions create duplicate pending rows. There is no dedup
// key; this is accepted behavior, not something the queue should fix.
func TestEnqueuePendingBooking_NoDedup(t *testing.T) {
	db := newTestDB(t, &domain.PendingBooking{})
	ctx := context.Background()

	if _, err := EnqueuePendingBooking(ctx, db, booking("e1")); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := EnqueuePendingBooking(ctx, db, booking("e1")); err != nil {
		t.Fatalf("second: %v", err)
	}
	total, err := CountPendingBookings(ctx, db)
	if err != nil || total != 2 {
		t.Fatalf("queue depth = %d (%v), want 2", total, err)
	}
}

func TestListPendingBookings_InsertionOrder(t *testing.T) {
	db := newTestDB(t, &domain.PendingBooking{})
	ctx := context.Background()

	first, _ := EnqueuePendingBooking(ctx, db, booking("e1"))
	second, _ := EnqueuePendingBooking(ctx, db, booking("e2"))
	third, _ := EnqueuePendingBooking(ctx, db, booking("e3"))

	rows, err := ListPendingBookings(ctx, db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows", len(rows))
	}
	want := []string{first.ExperienceID, second.ExperienceID, third.ExperienceID}
	for i, r := range rows {
		if r.ExperienceID != want[i] {
			t.Fatalf("row %d = %s, want %s", i, r.ExperienceID, want[i])
		}
	}
}

func TestDeleteAndTouchPendingBooking(t *testing.T) {
	db := newTestDB(t, &domain.PendingBooking{})
	ctx := context.Background()

	p, _ := EnqueuePendingBooking(ctx, db, booking("e1"))

	if err := TouchPendingBooking(ctx, db, p.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	var got domain.PendingBooking
	if err := db.First(&got, "id = ?", p.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}

	if err := DeletePendingBooking(ctx, db, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	total, _ := CountPendingBookings(ctx, db)
	if total != 0 {
		t.Fatalf("queue depth after delete = %d", total)
	}

	// Deleting again is not an error.
	if err := DeletePendingBooking(ctx, db, p.ID); err != nil {
		t.Fatalf("double delete: %v", err)
	}
}

func TestRecordDeadLetter_AuditsDiscard(t *testing.T) {
	db := newTestDB(t, &domain.PendingBooking{}, &domain.DeadLetter{})
	ctx := context.Background()

	p, _ := EnqueuePendingBooking(ctx, db, booking("e1"))
	_ = TouchPendingBooking(ctx, db, p.ID)
	p.Attempts = 1

	dl, err := RecordDeadLetter(ctx, db, *p, "dates not available")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if dl.Reason != "dates not available" || dl.Attempts != 1 || dl.DiscardedAt.IsZero() {
		t.Fatalf("unexpected dead letter: %+v", dl)
	}

	list, err := ListDeadLetters(ctx, db, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}
	total, err := CountDeadLetters(ctx, db)
	if err != nil || total != 1 {
		t.Fatalf("count = %d, %v", total, err)
	}
}

func TestListDeadLetters_LimitAndOrder(t *testing.T) {
	db := newTestDB(t, &domain.PendingBooking{}, &domain.DeadLetter{})
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		p, _ := EnqueuePendingBooking(ctx, db, booking(id))
		if _, err := RecordDeadLetter(ctx, db, *p, "capacity exceeded"); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct DiscardedAt
	}

	list, err := ListDeadLetters(ctx, db, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("limit ignored: %d rows", len(list))
	}
	if list[0].DiscardedAt.Before(list[1].DiscardedAt) {
		t.Fatal("expected most recent first")
	}
}
