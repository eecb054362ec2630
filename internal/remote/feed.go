package remote

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-experiences-backend/internal/domain"
	"github.com/tbourn/go-experiences-backend/internal/geo"
)

// feedPoolFor returns the candidate pool size for a requested page. Pulling
// a larger pool than the page keeps the shuffle meaningful.
func feedPoolFor(limit int) int {
	if pool := 5 * limit; pool > 100 {
		return pool
	}
	return 100
}

// availabilityConcurrency bounds the per-candidate booking-overlap checks
// in FilteredFeed.
const availabilityConcurrency = 8

// nearestPrefilterKm is the radius of the server-side candidate box in
// Nearest. Wide enough that the box rarely starves a page; when it does,
// the query widens to everything.
const nearestPrefilterKm = 150

// boxFilter narrows a query to a bounding box around a point. A cheap
// prefilter only; callers still rank by true haversine distance.
func boxFilter(lat, lng, radiusKm float64) bson.M {
	box := geo.BoundingBox(lat, lng, radiusKm)
	return bson.M{
		"latitude":  bson.M{"$gte": box[0], "$lte": box[1]},
		"longitude": bson.M{"$gte": box[2], "$lte": box[3]},
	}
}

// Nearest returns up to topK active records ranked by haversine distance
// from (lat, lng). Records without a stored location never rank.
func (s *Store) Nearest(ctx context.Context, lat, lng float64, topK int) ([]domain.Experience, error) {
	records, err := s.fetchActive(ctx, boxFilter(lat, lng, nearestPrefilterKm), 0)
	if err != nil {
		return nil, err
	}
	if len(records) < topK {
		// Sparse area: widen to the full collection rather than return a
		// short page.
		if records, err = s.fetchActive(ctx, bson.M{}, 0); err != nil {
			return nil, err
		}
	}
	located := records[:0]
	for _, e := range records {
		if e.HasLocation() {
			located = append(located, e)
		}
	}
	sort.SliceStable(located, func(i, j int) bool {
		di := geo.HaversineKm(lat, lng, located[i].Latitude, located[i].Longitude)
		dj := geo.HaversineKm(lat, lng, located[j].Latitude, located[j].Longitude)
		return di < dj
	})
	if len(located) > topK {
		located = located[:topK]
	}
	s.resolveHostNames(ctx, located)
	return located, nil
}

// RandomFeed returns up to limit active records from hosts outside
// excludeHostIDs, in random order. The host filter runs server-side and is
// re-applied client-side on the normalized email, since stored host ids
// are not guaranteed to be normalized.
func (s *Store) RandomFeed(ctx context.Context, limit int, excludeHostIDs []string) ([]domain.Experience, error) {
	filter := bson.M{}
	excluded := normalizeEmails(excludeHostIDs)
	if len(excluded) > 0 {
		filter["hostId"] = bson.M{"$nin": excludeHostIDs}
	}

	pool, err := s.fetchActive(ctx, filter, int64(feedPoolFor(limit)))
	if err != nil {
		return nil, err
	}
	kept := pool[:0]
	for _, e := range pool {
		if _, skip := excluded[strings.ToLower(strings.TrimSpace(e.HostID))]; skip {
			continue
		}
		kept = append(kept, e)
	}

	rand.Shuffle(len(kept), func(i, j int) { kept[i], kept[j] = kept[j], kept[i] })
	if len(kept) > limit {
		kept = kept[:limit]
	}
	s.resolveHostNames(ctx, kept)
	return kept, nil
}

// FeedFilter narrows FilteredFeed. Zero fields are ignored; a date range
// requires both ends.
type FeedFilter struct {
	Limit            int
	ExcludeHostIDs   []string
	Department       string
	StartAt, EndAt   time.Time
}

// FilteredFeed is RandomFeed with a department filter and, when a date
// range is given, a per-candidate availability check against existing
// bookings. Availability checks fan out concurrently; one failed check
// fails the call.
func (s *Store) FilteredFeed(ctx context.Context, f FeedFilter) ([]domain.Experience, error) {
	filter := bson.M{}
	excluded := normalizeEmails(f.ExcludeHostIDs)
	if len(excluded) > 0 {
		filter["hostId"] = bson.M{"$nin": f.ExcludeHostIDs}
	}
	if f.Department != "" {
		filter["department"] = f.Department
	}

	pool, err := s.fetchActive(ctx, filter, int64(feedPoolFor(f.Limit)))
	if err != nil {
		return nil, err
	}
	kept := pool[:0]
	for _, e := range pool {
		if _, skip := excluded[strings.ToLower(strings.TrimSpace(e.HostID))]; skip {
			continue
		}
		kept = append(kept, e)
	}

	if !f.StartAt.IsZero() && !f.EndAt.IsZero() {
		kept, err = s.filterAvailable(ctx, kept, f.StartAt, f.EndAt)
		if err != nil {
			return nil, err
		}
	}

	rand.Shuffle(len(kept), func(i, j int) { kept[i], kept[j] = kept[j], kept[i] })
	if len(kept) > f.Limit {
		kept = kept[:f.Limit]
	}
	s.resolveHostNames(ctx, kept)
	return kept, nil
}

// filterAvailable keeps the candidates with no booking overlapping
// [startAt, endAt), checking each concurrently.
func (s *Store) filterAvailable(ctx context.Context, candidates []domain.Experience, startAt, endAt time.Time) ([]domain.Experience, error) {
	keep := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(availabilityConcurrency)
	var mu sync.Mutex

	for i := range candidates {
		i := i
		g.Go(func() error {
			busy, err := s.hasOverlappingBooking(gctx, candidates[i].ID, startAt, endAt)
			if err != nil {
				return err
			}
			mu.Lock()
			keep[i] = !busy
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := candidates[:0]
	for i, e := range candidates {
		if keep[i] {
			out = append(out, e)
		}
	}
	return out, nil
}

// hasOverlappingBooking narrows server-side on start < requestedEnd, then
// applies the true interval-overlap test client-side.
func (s *Store) hasOverlappingBooking(ctx context.Context, experienceID string, startAt, endAt time.Time) (bool, error) {
	cur, err := s.db.Collection(colBookings).Find(ctx, bson.M{
		"experienceId": experienceID,
		"startAt":      bson.M{"$lt": endAt},
	})
	if err != nil {
		return false, fmt.Errorf("query bookings for %s: %w", experienceID, err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var b domain.Booking
		if err := cur.Decode(&b); err != nil {
			s.log.Debug().Err(err).Str("experience_id", experienceID).Msg("skipping undecodable booking")
			continue
		}
		if b.StartAt.Before(endAt) && b.EndAt.After(startAt) {
			return true, nil
		}
	}
	return false, cur.Err()
}

// RecentAverageRating returns the mean rating of reviews written since the
// given time. ok is false when there are none.
func (s *Store) RecentAverageRating(ctx context.Context, experienceID string, since time.Time) (avg float64, count int, ok bool, err error) {
	cur, err := s.db.Collection(colReviews).Find(ctx, bson.M{
		"experienceId": experienceID,
		"createdAt":    bson.M{"$gte": since},
	})
	if err != nil {
		return 0, 0, false, fmt.Errorf("query reviews for %s: %w", experienceID, err)
	}
	defer cur.Close(ctx)

	var sum float64
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		sum += asFloat(doc["rating"])
		count++
	}
	if err := cur.Err(); err != nil {
		return 0, 0, false, err
	}
	if count == 0 {
		return 0, 0, false, nil
	}
	return sum / float64(count), count, true, nil
}

// fetchActive streams active experience documents matching the extra
// filter, skipping any that fail to decode. limit <= 0 means no limit.
func (s *Store) fetchActive(ctx context.Context, extra bson.M, limit int64) ([]domain.Experience, error) {
	filter := bson.M{"isActive": true}
	for k, v := range extra {
		filter[k] = v
	}
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.db.Collection(colExperiences).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query experiences: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.Experience
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			s.log.Debug().Err(err).Msg("skipping undecodable experience")
			continue
		}
		e, ok := decodeExperience(doc)
		if !ok {
			s.log.Debug().Str("id", asString(doc["_id"])).Msg("skipping malformed experience")
			continue
		}
		out = append(out, e)
	}
	return out, cur.Err()
}

func normalizeEmails(in []string) map[string]struct{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(in))
	for _, e := range in {
		out[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return out
}
