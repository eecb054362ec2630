// Package repo implements the local persistence layer for the offline cache,
// backed by GORM. This file provides repository functions for the durable
// booking retry queue.
//
// Queue semantics:
//   - EnqueuePendingBooking inserts a new row; there is deliberately no
//     dedup key, so duplicate submissions create duplicate pending rows.
//   - ListPendingBookings returns rows in insertion order (EnqueuedAt, then
//     ID as a tiebreaker), which the retry loop preserves for items that
//     stay queued.
//   - DeletePendingBooking removes a row after commit or permanent
//     rejection.
//   - TouchPendingBooking bumps the attempt counter for diagnostics.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

// EnqueuePendingBooking persists a booking snapshot that failed with a
// network-class error. Returns the stored row.
func EnqueuePendingBooking(ctx context.Context, db *gorm.DB, b domain.Booking) (*domain.PendingBooking, error) {
	p := &domain.PendingBooking{
		ID:            uuid.NewString(),
		ExperienceID:  b.ExperienceID,
		TravelerEmail: b.TravelerEmail,
		StartAt:       b.StartAt,
		EndAt:         b.EndAt,
		PeopleCount:   b.PeopleCount,
		AmountCOP:     b.AmountCOP,
		EnqueuedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// ListPendingBookings returns all queued rows in insertion order.
func ListPendingBookings(ctx context.Context, db *gorm.DB) ([]domain.PendingBooking, error) {
	var out []domain.PendingBooking
	err := db.WithContext(ctx).
		Order("enqueued_at asc, id asc").
		Find(&out).Error
	return out, err
}

// CountPendingBookings returns the current queue depth.
func CountPendingBookings(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.PendingBooking{}).Count(&total).Error
	return total, err
}

// DeletePendingBooking removes a queued row by id. Deleting a row that no
// longer exists is not an error.
func DeletePendingBooking(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Delete(&domain.PendingBooking{}, "id = ?", id).Error
}

// TouchPendingBooking increments the attempt counter of a queued row.
func TouchPendingBooking(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.PendingBooking{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}
