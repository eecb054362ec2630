// Package services – MapService
//
// MapService publishes the "nearby" list for a position. Online, it asks
// the remote store for the nearest records, publishes them, then persists
// a capped slice to the durable cache, overwrites the position's bucket
// entry, and advances the policy anchors. Offline, it falls through the
// cache tiers: bucket ids resolved against the durable cache, then a full
// local nearest scan, then an empty result with a one-shot offline notice.
//
// Refreshes are gated by policy: connectivity, a minimum interval since
// the last refresh, and a minimum displacement from the last anchor. A
// gated refresh republishes nothing and reports the current state.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-experiences-backend/internal/connectivity"
	"github.com/tbourn/go-experiences-backend/internal/domain"
	"github.com/tbourn/go-experiences-backend/internal/geo"
	"github.com/tbourn/go-experiences-backend/internal/observability"
)

// MapSource is the remote contract required by MapService.
type MapSource interface {
	// Nearest returns up to topK active records ranked by distance.
	Nearest(ctx context.Context, lat, lng float64, topK int) ([]domain.Experience, error)
}

// ExperienceCache is the durable-cache contract required by MapService.
type ExperienceCache interface {
	// GetExperiencesByIDs resolves ids, preserving input order.
	GetExperiencesByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Experience, error)

	// GetNearestExperiences scans the cache for the k nearest records.
	GetNearestExperiences(ctx context.Context, db *gorm.DB, lat, lng float64, k int) ([]domain.Experience, error)

	// UpsertExperiences insert-or-replaces records in one transaction.
	UpsertExperiences(ctx context.Context, db *gorm.DB, records []domain.Experience) error
}

// BucketStore is the bucket-cache contract required by MapService.
type BucketStore interface {
	ReadTopIDs(bucketKey string) ([]string, error)
	WriteTopIDs(bucketKey string, ids []string, ts time.Time) error
}

// PolicyStore is the policy-metadata contract required by MapService.
type PolicyStore interface {
	ReadPolicy() (domain.PolicyMeta, error)
	UpdatePolicy(mut func(domain.PolicyMeta) domain.PolicyMeta) error
}

// MapResultSource labels which tier produced the published list.
type MapResultSource string

const (
	SourceRemote    MapResultSource = "remote"
	SourceBucket    MapResultSource = "bucket"
	SourceLocalScan MapResultSource = "local_scan"
	SourceEmpty     MapResultSource = "empty"
	SourceGated     MapResultSource = "gated"
)

// MapState is the published snapshot for the map surface.
type MapState struct {
	Items         []domain.Experience `json:"items"`
	Source        MapResultSource     `json:"source"`
	OfflineNotice bool                `json:"offline_notice"`
	Generation    uint64              `json:"generation"`
	RefreshedAt   time.Time           `json:"refreshed_at"`
}

// MapService publishes nearby experiences. Safe for concurrent use.
type MapService struct {
	// DB is the GORM handle backing the durable cache.
	DB *gorm.DB
	// Source is the remote nearest adapter.
	Source MapSource
	// Cache is the durable experience cache.
	Cache ExperienceCache
	// Buckets is the coarse geo-bucket store.
	Buckets BucketStore
	// Policy is the refresh policy store.
	Policy PolicyStore
	// Oracle reports connectivity.
	Oracle connectivity.Oracle
	// Log is the service logger.
	Log zerolog.Logger

	// NearestTopK is how many records a remote refresh requests.
	NearestTopK int
	// PersistMax caps how many records a refresh writes to the cache.
	PersistMax int
	// BucketTopK caps how many ids land in the bucket entry.
	BucketTopK int
	// FetchTimeout bounds the remote call.
	FetchTimeout time.Duration

	mu          sync.Mutex
	state       MapState
	gen         uint64
	noticeShown bool
}

// NewMapService constructs a MapService.
func NewMapService(db *gorm.DB, src MapSource, cache ExperienceCache, buckets BucketStore,
	policy PolicyStore, oracle connectivity.Oracle, log zerolog.Logger,
	nearestTopK, persistMax, bucketTopK int, fetchTimeout time.Duration) *MapService {
	return &MapService{
		DB:           db,
		Source:       src,
		Cache:        cache,
		Buckets:      buckets,
		Policy:       policy,
		Oracle:       oracle,
		Log:          log,
		NearestTopK:  nearestTopK,
		PersistMax:   persistMax,
		BucketTopK:   bucketTopK,
		FetchTimeout: fetchTimeout,
	}
}

// State returns a copy of the published snapshot.
func (s *MapService) State() MapState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state
	out.Items = append([]domain.Experience(nil), s.state.Items...)
	return out
}

// Refresh publishes the nearby list for (lat, lng), online or offline.
// Gated online refreshes return the current state unchanged with the
// source marked gated.
func (s *MapService) Refresh(ctx context.Context, lat, lng float64) (MapState, error) {
	policy, err := s.Policy.ReadPolicy()
	if err != nil {
		return s.State(), err
	}

	if s.Oracle.Online(ctx) {
		if s.gated(policy, lat, lng) {
			out := s.State()
			out.Source = SourceGated
			return out, nil
		}
		return s.refreshOnline(ctx, lat, lng)
	}
	return s.serveOffline(ctx, lat, lng)
}

// gated applies the policy gates: auto-refresh switch, minimum interval,
// minimum displacement. A service that has never refreshed is never gated.
func (s *MapService) gated(p domain.PolicyMeta, lat, lng float64) bool {
	if p.LastRefreshAt.IsZero() {
		return false
	}
	if !p.AutoRefreshEnabled {
		return true
	}
	if time.Since(p.LastRefreshAt) < p.RefreshMinInterval {
		return true
	}
	moved := geo.HaversineM(p.LastLat, p.LastLng, lat, lng)
	return moved < p.MoveDistanceM
}

func (s *MapService) refreshOnline(ctx context.Context, lat, lng float64) (MapState, error) {
	gen := s.nextGen()

	fctx, cancel := context.WithTimeout(ctx, s.FetchTimeout)
	items, err := s.Source.Nearest(fctx, lat, lng, s.NearestTopK)
	cancel()
	if err != nil {
		s.Log.Warn().Err(err).Msg("remote nearest failed, falling back to cache tiers")
		return s.serveOffline(ctx, lat, lng)
	}

	s.publish(gen, items, SourceRemote, false)
	s.persist(ctx, lat, lng, items)
	return s.State(), nil
}

// persist writes the refresh result behind the published state: capped
// slice to the durable cache, bucket entry overwrite, policy anchors.
// Failures here degrade the next offline session, not this one, so they
// log and continue.
func (s *MapService) persist(ctx context.Context, lat, lng float64, items []domain.Experience) {
	capped := items
	if len(capped) > s.PersistMax {
		capped = capped[:s.PersistMax]
	}
	if err := s.Cache.UpsertExperiences(ctx, s.DB, capped); err != nil {
		s.Log.Error().Err(err).Msg("persisting nearby records failed")
	}

	topIDs := make([]string, 0, s.BucketTopK)
	for _, e := range items {
		if len(topIDs) == s.BucketTopK {
			break
		}
		topIDs = append(topIDs, e.ID)
	}
	key := geo.BucketKey(lat, lng)
	if err := s.Buckets.WriteTopIDs(key, topIDs, time.Now().UTC()); err != nil {
		s.Log.Error().Err(err).Str("bucket", key).Msg("bucket write failed")
	}

	err := s.Policy.UpdatePolicy(func(p domain.PolicyMeta) domain.PolicyMeta {
		now := time.Now().UTC()
		p.LastRefreshAt = now
		p.LastSyncAt = now
		p.LastLat = lat
		p.LastLng = lng
		p.LastRemoteCount = len(items)
		return p
	})
	if err != nil {
		s.Log.Error().Err(err).Msg("policy anchor update failed")
	}
}

// serveOffline walks the cache tiers: bucket ids, local nearest scan,
// empty with a one-shot notice.
func (s *MapService) serveOffline(ctx context.Context, lat, lng float64) (MapState, error) {
	gen := s.nextGen()

	ids, err := s.Buckets.ReadTopIDs(geo.BucketKey(lat, lng))
	if err != nil {
		s.Log.Error().Err(err).Msg("bucket read failed")
	}
	if len(ids) > 0 {
		items, err := s.Cache.GetExperiencesByIDs(ctx, s.DB, ids)
		if err != nil {
			return s.State(), err
		}
		if len(items) > 0 {
			s.publish(gen, items, SourceBucket, false)
			return s.State(), nil
		}
	}

	items, err := s.Cache.GetNearestExperiences(ctx, s.DB, lat, lng, s.NearestTopK)
	if err != nil {
		return s.State(), err
	}
	if len(items) > 0 {
		s.publish(gen, items, SourceLocalScan, false)
		return s.State(), nil
	}

	s.mu.Lock()
	notice := !s.noticeShown
	s.noticeShown = true
	s.mu.Unlock()
	s.publish(gen, nil, SourceEmpty, notice)
	return s.State(), nil
}

func (s *MapService) nextGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

func (s *MapService) publish(gen uint64, items []domain.Experience, src MapResultSource, notice bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen < s.state.Generation {
		return
	}
	s.state = MapState{
		Items:         items,
		Source:        src,
		OfflineNotice: notice,
		Generation:    gen,
		RefreshedAt:   time.Now(),
	}
	observability.MapRefreshes.WithLabelValues(string(src)).Inc()
}
