// Package services – BookingService
//
// BookingService commits bookings to the remote store and owns the
// durable pending queue. A network-class commit failure enqueues the
// booking snapshot instead of losing it; a background drain loop then
// replays the queue in insertion order. Network failures keep an item
// queued in its original relative position; logical rejections and unknown
// failures get exactly one replay attempt before the item is moved to the
// dead-letter table, where it stays inspectable.
//
// The drain cadence starts at the configured base and backs off
// exponentially (with jitter, up to a ceiling) across consecutive cycles
// in which nothing succeeded. Any success resets the cadence.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-experiences-backend/internal/domain"
	"github.com/tbourn/go-experiences-backend/internal/observability"
)

// BookingCommitter is the remote contract required by BookingService.
type BookingCommitter interface {
	// CreateBooking validates and commits a booking remotely.
	CreateBooking(ctx context.Context, b domain.Booking) error
}

// BookingQueue is the durable-queue contract required by BookingService.
type BookingQueue interface {
	// EnqueuePendingBooking snapshots a booking into the queue.
	EnqueuePendingBooking(ctx context.Context, db *gorm.DB, b domain.Booking) (*domain.PendingBooking, error)

	// ListPendingBookings returns the queue in insertion order.
	ListPendingBookings(ctx context.Context, db *gorm.DB) ([]domain.PendingBooking, error)

	// DeletePendingBooking removes a queued item.
	DeletePendingBooking(ctx context.Context, db *gorm.DB, id string) error

	// TouchPendingBooking increments an item's attempt counter.
	TouchPendingBooking(ctx context.Context, db *gorm.DB, id string) error

	// CountPendingBookings returns the queue depth.
	CountPendingBookings(ctx context.Context, db *gorm.DB) (int64, error)

	// RecordDeadLetter audits a permanently rejected item.
	RecordDeadLetter(ctx context.Context, db *gorm.DB, p domain.PendingBooking, reason string) (*domain.DeadLetter, error)

	// ListDeadLetters returns audited rejections, newest first.
	ListDeadLetters(ctx context.Context, db *gorm.DB, limit int) ([]domain.DeadLetter, error)
}

// BookingService owns booking commits and the pending queue. Safe for
// concurrent use; the drain loop serializes replays internally.
type BookingService struct {
	// DB is the GORM handle backing the queue tables.
	DB *gorm.DB
	// Remote commits bookings.
	Remote BookingCommitter
	// Queue is the durable queue repository.
	Queue BookingQueue
	// Log is the service logger.
	Log zerolog.Logger

	// CommitTimeout bounds each remote commit attempt.
	CommitTimeout time.Duration
	// Retry shapes the drain cadence.
	Retry Backoff

	kick chan struct{}
}

// NewBookingService constructs a BookingService.
func NewBookingService(db *gorm.DB, remote BookingCommitter, queue BookingQueue,
	log zerolog.Logger, commitTimeout time.Duration, retry Backoff) *BookingService {
	return &BookingService{
		DB:            db,
		Remote:        remote,
		Queue:         queue,
		Log:           log,
		CommitTimeout: commitTimeout,
		Retry:         retry,
		kick:          make(chan struct{}, 1),
	}
}

// Create commits a booking. On a network-class failure the booking is
// enqueued durably and queued reports true with a nil error: the write is
// accepted, not lost. Logical and unknown failures are returned to the
// caller and nothing is queued.
func (s *BookingService) Create(ctx context.Context, b domain.Booking) (queued bool, err error) {
	cctx, cancel := context.WithTimeout(ctx, s.CommitTimeout)
	err = s.Remote.CreateBooking(cctx, b)
	cancel()
	if err == nil {
		return false, nil
	}

	switch Classify(err) {
	case ClassNetwork:
		if _, qerr := s.Queue.EnqueuePendingBooking(ctx, s.DB, b); qerr != nil {
			return false, fmt.Errorf("enqueue after network failure: %w", qerr)
		}
		s.Log.Info().Str("experience_id", b.ExperienceID).Msg("booking queued for retry")
		s.SyncNow()
		s.reportDepth(ctx)
		return true, nil
	default:
		return false, err
	}
}

// Pending returns the queue in insertion order.
func (s *BookingService) Pending(ctx context.Context) ([]domain.PendingBooking, error) {
	return s.Queue.ListPendingBookings(ctx, s.DB)
}

// DeadLetters returns audited permanent rejections, newest first.
func (s *BookingService) DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	return s.Queue.ListDeadLetters(ctx, s.DB, limit)
}

// SyncNow wakes the drain loop early. Safe to call at any time.
func (s *BookingService) SyncNow() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is done. Started once from main.
func (s *BookingService) Run(ctx context.Context) {
	var fails int
	for {
		timer := time.NewTimer(s.Retry.Delay(fails))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.kick:
			timer.Stop()
		case <-timer.C:
		}

		attempted, succeeded := s.drain(ctx)
		switch {
		case attempted == 0, succeeded > 0:
			fails = 0
		default:
			fails++
		}
		s.reportDepth(ctx)
	}
}

// drain replays the whole queue once, in insertion order. Network-class
// failures leave the item queued; every other failure dead-letters it.
func (s *BookingService) drain(ctx context.Context) (attempted, succeeded int) {
	items, err := s.Queue.ListPendingBookings(ctx, s.DB)
	if err != nil {
		s.Log.Error().Err(err).Msg("listing pending bookings failed")
		return 0, 0
	}

	for _, p := range items {
		if ctx.Err() != nil {
			return attempted, succeeded
		}
		attempted++

		cctx, cancel := context.WithTimeout(ctx, s.CommitTimeout)
		err := s.Remote.CreateBooking(cctx, p.Booking())
		cancel()

		switch {
		case err == nil:
			if derr := s.Queue.DeletePendingBooking(ctx, s.DB, p.ID); derr != nil {
				s.Log.Error().Err(derr).Str("id", p.ID).Msg("dequeue after success failed")
			}
			succeeded++
			observability.BookingRetries.WithLabelValues("success").Inc()
		case Classify(err) == ClassNetwork:
			if terr := s.Queue.TouchPendingBooking(ctx, s.DB, p.ID); terr != nil {
				s.Log.Error().Err(terr).Str("id", p.ID).Msg("touch after network failure failed")
			}
			observability.BookingRetries.WithLabelValues("network_failure").Inc()
		default:
			if _, dlerr := s.Queue.RecordDeadLetter(ctx, s.DB, p, err.Error()); dlerr != nil {
				s.Log.Error().Err(dlerr).Str("id", p.ID).Msg("dead-letter record failed")
				continue // keep the item queued rather than lose it
			}
			if derr := s.Queue.DeletePendingBooking(ctx, s.DB, p.ID); derr != nil {
				s.Log.Error().Err(derr).Str("id", p.ID).Msg("dequeue after dead-letter failed")
			}
			s.Log.Warn().Err(err).Str("id", p.ID).Msg("pending booking dead-lettered")
			observability.BookingRetries.WithLabelValues("dead_letter").Inc()
		}
	}
	return attempted, succeeded
}

func (s *BookingService) reportDepth(ctx context.Context) {
	if n, err := s.Queue.CountPendingBookings(ctx, s.DB); err == nil {
		observability.PendingBookings.Set(float64(n))
	}
}
