package remote

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

// Logical rejections from the remote store. These are terminal: the
// request was understood and refused, so retrying the same payload can
// never succeed.
var (
	// ErrOverCapacity means the group exceeds the experience's max size.
	ErrOverCapacity = errors.New("remote: people count exceeds experience capacity")
	// ErrDatesUnavailable means an existing booking overlaps the range.
	ErrDatesUnavailable = errors.New("remote: requested dates are unavailable")
	// ErrNoTraveler means the booking carries no traveler identity.
	ErrNoTraveler = errors.New("remote: booking has no traveler email")
	// ErrUnknownExperience means the referenced experience does not exist.
	ErrUnknownExperience = errors.New("remote: experience not found")
)

// CreateBooking validates and commits a booking: traveler identity,
// capacity against the experience's max group size, then a date-overlap
// check narrowed server-side, then insert. Checks and insert are not one
// atomic unit; the remote store is the final arbiter on races.
func (s *Store) CreateBooking(ctx context.Context, b domain.Booking) error {
	if b.TravelerEmail == "" {
		return ErrNoTraveler
	}

	var doc bson.M
	err := s.db.Collection(colExperiences).FindOne(ctx, bson.M{"_id": b.ExperienceID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrUnknownExperience
		}
		return fmt.Errorf("load experience %s: %w", b.ExperienceID, err)
	}
	if max := asInt(doc["maxPeople"]); max > 0 && b.PeopleCount > max {
		return fmt.Errorf("%w: %d > %d", ErrOverCapacity, b.PeopleCount, max)
	}

	busy, err := s.hasOverlappingBooking(ctx, b.ExperienceID, b.StartAt, b.EndAt)
	if err != nil {
		return err
	}
	if busy {
		return ErrDatesUnavailable
	}

	_, err = s.db.Collection(colBookings).InsertOne(ctx, bson.M{
		"experienceId":  b.ExperienceID,
		"travelerEmail": b.TravelerEmail,
		"startAt":       b.StartAt,
		"endAt":         b.EndAt,
		"peopleCount":   b.PeopleCount,
		"amountCOP":     b.AmountCOP,
		"createdAt":     nowUTC(),
	})
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	s.log.Info().Str("experience_id", b.ExperienceID).Msg("booking committed")
	return nil
}
