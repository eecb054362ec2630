// Package repo implements the local persistence layer for the offline cache,
// backed by GORM. This file provides the dead-letter repository: permanently
// rejected pending bookings are recorded here instead of vanishing, so lost
// writes stay auditable.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

// RecordDeadLetter stores the failure evidence for a permanently rejected
// pending booking: what was attempted, how often, why it was refused and
// when it was discarded.
func RecordDeadLetter(ctx context.Context, db *gorm.DB, p domain.PendingBooking, reason string) (*domain.DeadLetter, error) {
	dl := &domain.DeadLetter{
		ID:            uuid.NewString(),
		ExperienceID:  p.ExperienceID,
		TravelerEmail: p.TravelerEmail,
		Reason:        reason,
		Attempts:      p.Attempts,
		EnqueuedAt:    p.EnqueuedAt,
		DiscardedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(dl).Error; err != nil {
		return nil, err
	}
	return dl, nil
}

// ListDeadLetters returns dead letters, most recent first.
func ListDeadLetters(ctx context.Context, db *gorm.DB, limit int) ([]domain.DeadLetter, error) {
	var out []domain.DeadLetter
	q := db.WithContext(ctx).Order("discarded_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountDeadLetters returns the total number of recorded discards.
func CountDeadLetters(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.DeadLetter{}).Count(&total).Error
	return total, err
}
