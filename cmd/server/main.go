// Command server runs the experiences sync backend: a local-first cache
// and write queue over the remote document store, exposed as a REST API.
//
// Boot order matters: local stores first (the service must come up
// offline), then the remote connection (failures are tolerated), then
// the orchestrators and their background loops, then HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-experiences-backend/internal/config"
	"github.com/tbourn/go-experiences-backend/internal/connectivity"
	"github.com/tbourn/go-experiences-backend/internal/domain"
	"github.com/tbourn/go-experiences-backend/internal/files"
	httpapi "github.com/tbourn/go-experiences-backend/internal/http"
	"github.com/tbourn/go-experiences-backend/internal/kv"
	"github.com/tbourn/go-experiences-backend/internal/observability"
	"github.com/tbourn/go-experiences-backend/internal/remote"
	"github.com/tbourn/go-experiences-backend/internal/repo"
	"github.com/tbourn/go-experiences-backend/internal/services"
	"github.com/tbourn/go-experiences-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// probeInterval is how often the connectivity monitor polls the probe
// address while the process runs.
const probeInterval = 15 * time.Second

// deviceReportedFlag is the one-shot KV flag keyed per install.
const deviceReportedFlag = "device_distribution_reported"

// experienceCacheRepo adapts the repository free functions to the
// services.ExperienceCache interface.
type experienceCacheRepo struct{}

func (experienceCacheRepo) GetExperiencesByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Experience, error) {
	return repo.GetExperiencesByIDs(ctx, db, ids)
}

func (experienceCacheRepo) GetNearestExperiences(ctx context.Context, db *gorm.DB, lat, lng float64, k int) ([]domain.Experience, error) {
	return repo.GetNearestExperiences(ctx, db, lat, lng, k)
}

func (experienceCacheRepo) UpsertExperiences(ctx context.Context, db *gorm.DB, records []domain.Experience) error {
	return repo.UpsertExperiences(ctx, db, records)
}

// bookingQueueRepo adapts the repository free functions to the
// services.BookingQueue interface.
type bookingQueueRepo struct{}

func (bookingQueueRepo) EnqueuePendingBooking(ctx context.Context, db *gorm.DB, b domain.Booking) (*domain.PendingBooking, error) {
	return repo.EnqueuePendingBooking(ctx, db, b)
}

func (bookingQueueRepo) ListPendingBookings(ctx context.Context, db *gorm.DB) ([]domain.PendingBooking, error) {
	return repo.ListPendingBookings(ctx, db)
}

func (bookingQueueRepo) DeletePendingBooking(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeletePendingBooking(ctx, db, id)
}

func (bookingQueueRepo) TouchPendingBooking(ctx context.Context, db *gorm.DB, id string) error {
	return repo.TouchPendingBooking(ctx, db, id)
}

func (bookingQueueRepo) CountPendingBookings(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountPendingBookings(ctx, db)
}

func (bookingQueueRepo) RecordDeadLetter(ctx context.Context, db *gorm.DB, p domain.PendingBooking, reason string) (*domain.DeadLetter, error) {
	return repo.RecordDeadLetter(ctx, db, p, reason)
}

func (bookingQueueRepo) ListDeadLetters(ctx context.Context, db *gorm.DB, limit int) ([]domain.DeadLetter, error) {
	return repo.ListDeadLetters(ctx, db, limit)
}

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("version", version).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(sctx)
	}()

	// Local stores; the process must come up without connectivity.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("opening sqlite cache failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("cache migration failed")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			logger.Warn().Err(err).Msg("gorm tracing plugin failed, continuing untraced")
		}
	}

	kvStore, err := kv.Open(cfg.KVPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.KVPath).Msg("opening kv store failed")
	}
	defer func() { _ = kvStore.Close() }()

	images, err := files.NewImageStore(filepath.Join(cfg.DataDir, "images"), cfg.Sync.ImageCacheMax)
	if err != nil {
		logger.Fatal().Err(err).Msg("image cache init failed")
	}
	photos, err := files.NewProfileStore(filepath.Join(cfg.DataDir, "profile"))
	if err != nil {
		logger.Fatal().Err(err).Msg("profile photo store init failed")
	}

	// Remote store. Connect tolerates an unreachable remote; only a
	// malformed URI stops the boot.
	store, err := remote.Connect(ctx, cfg.Remote.MongoURI, cfg.Remote.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("remote store connect failed")
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(cctx)
	}()

	// Connectivity
	prober := connectivity.NewProber(cfg.Sync.ProbeAddr, cfg.Sync.ProbeTimeout)
	monitor := connectivity.NewMonitor(prober, probeInterval, logger)

	// Orchestrators
	feedRetry := services.Backoff{Base: cfg.Sync.FeedRetryBase, Ceiling: cfg.Sync.BackoffCeiling, Jitter: cfg.Sync.BackoffJitter}
	bookingRetry := services.Backoff{Base: cfg.Sync.BookingRetry, Ceiling: cfg.Sync.BackoffCeiling, Jitter: cfg.Sync.BackoffJitter}

	feedSvc := services.NewFeedService(store, prober, logger,
		cfg.Sync.FetchTimeout, cfg.Sync.EnrichTimeout, feedRetry)
	defer feedSvc.Close()
	if cfg.Sync.PrefetchImages {
		feedSvc.Images = images
	}

	mapSvc := services.NewMapService(db, store, experienceCacheRepo{}, kvStore, kvStore,
		prober, logger, cfg.Sync.NearestTopK, cfg.Sync.PersistMax, cfg.Sync.BucketTopK, cfg.Sync.FetchTimeout)

	bookingSvc := services.NewBookingService(db, store, bookingQueueRepo{},
		logger, cfg.Sync.FetchTimeout, bookingRetry)

	var profileSvc *services.ProfileService
	if cfg.UserEmail != "" {
		profileSvc = services.NewProfileService(cfg.UserEmail, store, kvStore, photos,
			prober, logger, cfg.Sync.FetchTimeout, bookingRetry)
	}

	// Background loops
	go monitor.Run(ctx)
	go bookingSvc.Run(ctx)
	if profileSvc != nil {
		go profileSvc.Run(ctx)
	}
	go func() {
		for range monitor.Subscribe() {
			feedSvc.NetworkAvailable()
			bookingSvc.SyncNow()
			if profileSvc != nil {
				profileSvc.SyncNow()
			}
		}
	}()

	go reportInstall(ctx, kvStore, store, cfg, logger)

	// HTTP
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	deps := httpapi.Deps{Feed: feedSvc, Map: mapSvc, Booking: bookingSvc}
	if profileSvc != nil {
		deps.Profile = profileSvc
	}
	httpapi.RegisterRoutes(engine, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// reportInstall sends the one-shot device distribution ping and, when a
// user is configured, a feature-usage tick for the app start. Both are
// best effort and retried on the next boot if they fail.
func reportInstall(ctx context.Context, kvStore *kv.Store, store *remote.Store,
	cfg config.Config, logger zerolog.Logger) {
	done, err := kvStore.Flag(deviceReportedFlag)
	if err != nil {
		logger.Warn().Err(err).Msg("reading install flag failed")
		return
	}
	if !done {
		if err := store.ReportDeviceDistribution(ctx, cfg.Sync.DeviceLabel); err != nil {
			logger.Debug().Err(err).Msg("device distribution report failed")
		} else if err := kvStore.SetFlag(deviceReportedFlag); err != nil {
			logger.Warn().Err(err).Msg("setting install flag failed")
		}
	}
	if cfg.UserEmail != "" {
		if err := store.IncrementFeatureUse(ctx, cfg.UserEmail, "app_start"); err != nil {
			logger.Debug().Err(err).Msg("feature usage tick failed")
		}
	}
}
