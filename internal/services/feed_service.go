// Package services – FeedService
//
// FeedService owns the discovery feed: it queries the remote store for a
// page of experiences, publishes the page immediately with ratings marked
// unresolved, then overlays fresh review averages under a short budget,
// patching the published page in place. When the first load fails with a
// network-class error and nothing is published yet, it raises an offline
// banner and parks a retry poller that reissues the identical query with
// exponential backoff until something lands or the service is closed.
//
// Published state carries a monotonic generation. Every load claims the
// next generation up front; only the highest claimed generation may
// overwrite published state, so a slow in-flight fetch can never clobber
// the result of a newer one.
package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-experiences-backend/internal/connectivity"
	"github.com/tbourn/go-experiences-backend/internal/domain"
	"github.com/tbourn/go-experiences-backend/internal/files"
	"github.com/tbourn/go-experiences-backend/internal/observability"
	"github.com/tbourn/go-experiences-backend/internal/remote"
)

// ratingWindow bounds how far back "recent" review averages reach.
const ratingWindow = 90 * 24 * time.Hour

// FeedSource is the remote contract required by FeedService.
type FeedSource interface {
	// RandomFeed returns up to limit active records excluding the hosts.
	RandomFeed(ctx context.Context, limit int, excludeHostIDs []string) ([]domain.Experience, error)

	// FilteredFeed is RandomFeed narrowed by department and date range.
	FilteredFeed(ctx context.Context, f remote.FeedFilter) ([]domain.Experience, error)

	// RecentAverageRating returns the mean review rating since the given
	// time; ok is false when there are no recent reviews.
	RecentAverageRating(ctx context.Context, experienceID string, since time.Time) (avg float64, count int, ok bool, err error)
}

// FeedParams selects what a load fetches. The viewer's email is excluded
// from hosting so users never see their own listings.
type FeedParams struct {
	Limit       int
	ViewerEmail string
	Department  string
	StartAt     time.Time
	EndAt       time.Time
}

func (p FeedParams) filtered() bool {
	return p.Department != "" || (!p.StartAt.IsZero() && !p.EndAt.IsZero())
}

// FeedState is the published snapshot handed to the HTTP surface.
type FeedState struct {
	Items           []domain.Experience `json:"items"`
	RatingsResolved bool                `json:"ratings_resolved"`
	OfflineBanner   bool                `json:"offline_banner"`
	Generation      uint64              `json:"generation"`
	RefreshedAt     time.Time           `json:"refreshed_at"`
}

// FeedService publishes the discovery feed. Safe for concurrent use.
type FeedService struct {
	// Source is the remote feed adapter.
	Source FeedSource
	// Oracle gates nothing here but is consulted for banner wording in
	// logs; loads always attempt the remote call and let it fail.
	Oracle connectivity.Oracle
	// Log is the service logger.
	Log zerolog.Logger

	// Images, when set, receives the first image of each published
	// record so the catalogue can render covers offline.
	Images *files.ImageStore
	// HTTPClient fetches prefetched images; nil means http.DefaultClient.
	HTTPClient *http.Client

	// FetchTimeout bounds the primary page fetch.
	FetchTimeout time.Duration
	// EnrichTimeout bounds the rating overlay pass.
	EnrichTimeout time.Duration
	// Retry shapes the parked poller's cadence.
	Retry Backoff

	mu       sync.Mutex
	state    FeedState
	gen      uint64
	retrying bool

	kick   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewFeedService constructs a FeedService with the given collaborators.
func NewFeedService(src FeedSource, oracle connectivity.Oracle, log zerolog.Logger,
	fetchTimeout, enrichTimeout time.Duration, retry Backoff) *FeedService {
	return &FeedService{
		Source:        src,
		Oracle:        oracle,
		Log:           log,
		FetchTimeout:  fetchTimeout,
		EnrichTimeout: enrichTimeout,
		Retry:         retry,
		kick:          make(chan struct{}, 1),
		closed:        make(chan struct{}),
	}
}

// State returns a copy of the published snapshot.
func (s *FeedService) State() FeedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state
	out.Items = append([]domain.Experience(nil), s.state.Items...)
	return out
}

// Load fetches a feed page and publishes it. The page lands first with
// ratings unresolved; the overlay pass then patches averages in under its
// own budget. A network-class failure with nothing published raises the
// offline banner and parks the retry poller.
func (s *FeedService) Load(ctx context.Context, p FeedParams) (FeedState, error) {
	select {
	case <-s.closed:
		return s.State(), ErrClosed
	default:
	}

	gen := s.nextGen()

	fetchCtx, cancel := context.WithTimeout(ctx, s.FetchTimeout)
	items, err := s.fetch(fetchCtx, p)
	cancel()
	if err != nil {
		if IsNetworkError(err) {
			observability.FeedLoads.WithLabelValues("network_failure").Inc()
			if s.publishedEmpty() {
				s.raiseBanner(gen)
				s.parkRetry(p)
			}
		} else {
			observability.FeedLoads.WithLabelValues("other_failure").Inc()
		}
		s.Log.Warn().Err(err).Msg("feed load failed")
		return s.State(), err
	}

	observability.FeedLoads.WithLabelValues("success").Inc()
	s.publish(gen, items, false)
	s.enrich(ctx, gen, items, p)
	s.prefetchImages(ctx, items)
	return s.State(), nil
}

// prefetchImages caches the first image of each published record. The
// whole pass runs under the enrichment budget, so a slow image origin
// cannot hold a Load past it. Failures degrade offline rendering only,
// so they log at debug.
func (s *FeedService) prefetchImages(ctx context.Context, items []domain.Experience) {
	if s.Images == nil {
		return
	}
	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	pctx, cancel := context.WithTimeout(ctx, s.EnrichTimeout)
	defer cancel()
	for _, e := range items {
		if pctx.Err() != nil {
			s.Log.Debug().Msg("image prefetch budget exhausted")
			return
		}
		if len(e.Images) == 0 {
			continue
		}
		if _, err := s.Images.Download(pctx, client, e.ID, e.Images[0]); err != nil {
			s.Log.Debug().Err(err).Str("experience_id", e.ID).Msg("image prefetch failed")
		}
	}
}

// NetworkAvailable triggers one immediate out-of-band retry attempt when a
// poller is parked. Safe to call at any time.
func (s *FeedService) NetworkAvailable() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Close stops the retry poller. Subsequent Loads return ErrClosed.
func (s *FeedService) Close() {
	s.once.Do(func() { close(s.closed) })
}

func (s *FeedService) fetch(ctx context.Context, p FeedParams) ([]domain.Experience, error) {
	var exclude []string
	if p.ViewerEmail != "" {
		exclude = []string{p.ViewerEmail}
	}
	if p.filtered() {
		return s.Source.FilteredFeed(ctx, remote.FeedFilter{
			Limit:          p.Limit,
			ExcludeHostIDs: exclude,
			Department:     p.Department,
			StartAt:        p.StartAt,
			EndAt:          p.EndAt,
		})
	}
	return s.Source.RandomFeed(ctx, p.Limit, exclude)
}

// enrich overlays recent review averages onto the just-published page,
// patching in place. A stale generation or a failed lookup leaves the
// published values untouched.
func (s *FeedService) enrich(ctx context.Context, gen uint64, items []domain.Experience, p FeedParams) {
	if len(items) == 0 {
		s.markResolved(gen)
		return
	}
	ectx, cancel := context.WithTimeout(ctx, s.EnrichTimeout)
	defer cancel()

	since := time.Now().Add(-ratingWindow)
	patched := make([]domain.Experience, len(items))
	copy(patched, items)
	for i := range patched {
		avg, count, ok, err := s.Source.RecentAverageRating(ectx, patched[i].ID, since)
		if err != nil {
			s.Log.Debug().Err(err).Str("id", patched[i].ID).Msg("rating overlay failed")
			continue
		}
		if ok {
			patched[i].AvgRating = avg
			patched[i].ReviewsCount = count
		}
	}

	s.mu.Lock()
	if s.state.Generation == gen {
		s.state.Items = patched
		s.state.RatingsResolved = true
	}
	s.mu.Unlock()
}

func (s *FeedService) nextGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// publish installs a result unless a newer generation already landed.
func (s *FeedService) publish(gen uint64, items []domain.Experience, banner bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen < s.state.Generation {
		return
	}
	s.state = FeedState{
		Items:         items,
		OfflineBanner: banner,
		Generation:    gen,
		RefreshedAt:   time.Now(),
	}
}

func (s *FeedService) markResolved(gen uint64) {
	s.mu.Lock()
	if s.state.Generation == gen {
		s.state.RatingsResolved = true
	}
	s.mu.Unlock()
}

func (s *FeedService) raiseBanner(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen < s.state.Generation || len(s.state.Items) > 0 {
		return
	}
	s.state.OfflineBanner = true
	if gen > s.state.Generation {
		s.state.Generation = gen
	}
}

func (s *FeedService) publishedEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Items) == 0
}

// parkRetry starts the backoff poller once; later calls while it runs are
// no-ops. The poller reissues the identical query until a non-empty page
// lands or the service closes.
func (s *FeedService) parkRetry(p FeedParams) {
	s.mu.Lock()
	if s.retrying {
		s.mu.Unlock()
		return
	}
	s.retrying = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.retrying = false
			s.mu.Unlock()
		}()

		for attempt := 0; ; attempt++ {
			timer := time.NewTimer(s.Retry.Delay(attempt))
			select {
			case <-s.closed:
				timer.Stop()
				return
			case <-s.kick:
				timer.Stop()
			case <-timer.C:
			}

			gen := s.nextGen()
			ctx, cancel := context.WithTimeout(context.Background(), s.FetchTimeout)
			items, err := s.fetch(ctx, p)
			cancel()
			if err != nil {
				s.Log.Debug().Err(err).Int("attempt", attempt+1).Msg("feed retry failed")
				continue
			}
			if len(items) == 0 {
				// An empty page is not recovery; the banner stays up
				// until something lands.
				s.Log.Debug().Int("attempt", attempt+1).Msg("feed retry returned nothing")
				continue
			}
			s.publish(gen, items, false)
			s.enrich(context.Background(), gen, items, p)
			return
		}
	}()
}
