// Experiences HTTP handlers.
//
// This file exposes the REST endpoints over the sync orchestrators:
//   - GET  /feed                    (load a feed page)
//   - GET  /feed/state              (published feed snapshot)
//   - GET  /nearby                  (map refresh at a position)
//   - POST /bookings                (create, queues on network failure)
//   - GET  /bookings/pending        (durable queue contents)
//   - GET  /bookings/deadletters    (audited permanent rejections)
//   - GET  /profile                 (local profile state)
//   - PUT  /profile                 (save edits)
//   - POST /profile/photo           (set pending photo)
//   - POST /profile/sync            (force a sync pass)
//   - POST /profile/refresh         (reconcile mirror with remote)
//
// Handlers are transport-thin: they validate input, call orchestrators,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-experiences-backend/internal/domain"
	"github.com/tbourn/go-experiences-backend/internal/services"
	"github.com/tbourn/go-experiences-backend/internal/utils"
)

//
// Orchestrator contracts (context-aware)
//

// FeedOrchestrator is the feed surface consumed by HTTP handlers.
type FeedOrchestrator interface {
	// Load fetches and publishes a feed page.
	Load(ctx context.Context, p services.FeedParams) (services.FeedState, error)
	// State returns the published snapshot without fetching.
	State() services.FeedState
}

// MapOrchestrator is the nearby surface consumed by HTTP handlers.
type MapOrchestrator interface {
	// Refresh publishes the nearby list for a position.
	Refresh(ctx context.Context, lat, lng float64) (services.MapState, error)
}

// BookingOrchestrator is the booking surface consumed by HTTP handlers.
type BookingOrchestrator interface {
	// Create commits a booking; queued reports offline acceptance.
	Create(ctx context.Context, b domain.Booking) (queued bool, err error)
	// Pending returns the durable queue in insertion order.
	Pending(ctx context.Context) ([]domain.PendingBooking, error)
	// DeadLetters returns audited rejections, newest first.
	DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error)
}

// ProfileOrchestrator is the profile surface consumed by HTTP handlers.
type ProfileOrchestrator interface {
	// State returns the durable local profile state.
	State() (domain.ProfileState, error)
	// SaveEdits applies edits locally and pushes or queues them.
	SaveEdits(ctx context.Context, name, about *string, languages *[]string) error
	// SetPendingPhoto stores a photo for later upload.
	SetPendingPhoto(ctx context.Context, r io.Reader) error
	// SyncPendingNow runs one sync pass.
	SyncPendingNow(ctx context.Context) error
	// RefreshFromRemote reconciles the mirror with the remote document.
	RefreshFromRemote(ctx context.Context) error
}

// Handlers groups the HTTP endpoints over the orchestrators.
type Handlers struct {
	feed    FeedOrchestrator
	maps    MapOrchestrator
	booking BookingOrchestrator
	profile ProfileOrchestrator

	// defaultFeedLimit applies when the query omits limit.
	defaultFeedLimit int
}

// New constructs a Handlers instance bound to the given orchestrators.
func New(feed FeedOrchestrator, maps MapOrchestrator, booking BookingOrchestrator,
	profile ProfileOrchestrator, defaultFeedLimit int) *Handlers {
	return &Handlers{
		feed:             feed,
		maps:             maps,
		booking:          booking,
		profile:          profile,
		defaultFeedLimit: defaultFeedLimit,
	}
}

// LoadFeed handles GET /feed.
//
// Query: limit, viewer (email excluded from hosting), department,
// start/end (RFC 3339, both required for date filtering).
func (h *Handlers) LoadFeed(c *gin.Context) {
	p := services.FeedParams{
		Limit:       utils.AtoiDefault(c.Query("limit"), h.defaultFeedLimit),
		ViewerEmail: c.Query("viewer"),
		Department:  c.Query("department"),
	}
	if p.Limit <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be positive")
		return
	}
	start, okStart := utils.ParseTimeRFC3339(c.Query("start"))
	end, okEnd := utils.ParseTimeRFC3339(c.Query("end"))
	if okStart != okEnd {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "start and end must be provided together")
		return
	}
	if okStart {
		if !end.After(start) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "end must be after start")
			return
		}
		p.StartAt, p.EndAt = start, end
	}

	state, err := h.feed.Load(c.Request.Context(), p)
	if err != nil {
		// The published snapshot (banner included) still goes back so the
		// client can render the offline tier.
		ok(c, http.StatusServiceUnavailable, state)
		return
	}
	ok(c, http.StatusOK, state)
}

// FeedState handles GET /feed/state.
func (h *Handlers) FeedState(c *gin.Context) {
	ok(c, http.StatusOK, h.feed.State())
}

// Nearby handles GET /nearby?lat=&lng=.
func (h *Handlers) Nearby(c *gin.Context) {
	latStr, lngStr := c.Query("lat"), c.Query("lng")
	if latStr == "" || lngStr == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "lat and lng are required")
		return
	}
	lat := utils.ParseFloatDefault(latStr, 360)
	lng := utils.ParseFloatDefault(lngStr, 360)
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "lat/lng out of range")
		return
	}

	state, err := h.maps.Refresh(c.Request.Context(), lat, lng)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeRefreshFailed, "nearby refresh failed")
		return
	}
	ok(c, http.StatusOK, state)
}

// createBookingRequest is the POST /bookings payload.
type createBookingRequest struct {
	ExperienceID  string    `json:"experience_id" binding:"required"`
	TravelerEmail string    `json:"traveler_email" binding:"required,email"`
	StartAt       time.Time `json:"start_at" binding:"required"`
	EndAt         time.Time `json:"end_at" binding:"required"`
	PeopleCount   int       `json:"people_count" binding:"required,min=1"`
	AmountCOP     int64     `json:"amount_cop" binding:"min=0"`
}

// createBookingResponse reports how the booking was accepted.
type createBookingResponse struct {
	// Status is "committed" or "queued".
	Status string `json:"status"`
}

// CreateBooking handles POST /bookings.
//
// A committed booking returns 201. A booking accepted into the durable
// queue after a network failure returns 202: the write is owed, not lost.
func (h *Handlers) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid booking payload")
		return
	}
	if !req.EndAt.After(req.StartAt) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "end_at must be after start_at")
		return
	}

	queued, err := h.booking.Create(c.Request.Context(), domain.Booking{
		ExperienceID:  req.ExperienceID,
		TravelerEmail: req.TravelerEmail,
		StartAt:       req.StartAt,
		EndAt:         req.EndAt,
		PeopleCount:   req.PeopleCount,
		AmountCOP:     req.AmountCOP,
	})
	if err != nil {
		if services.IsLogicalError(err) {
			fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "booking failed")
		return
	}
	if queued {
		ok(c, http.StatusAccepted, createBookingResponse{Status: "queued"})
		return
	}
	ok(c, http.StatusCreated, createBookingResponse{Status: "committed"})
}

// PendingBookings handles GET /bookings/pending.
func (h *Handlers) PendingBookings(c *gin.Context) {
	items, err := h.booking.Pending(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "listing pending bookings failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// DeadLetters handles GET /bookings/deadletters?limit=.
func (h *Handlers) DeadLetters(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 50)
	if limit <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be positive")
		return
	}
	items, err := h.booking.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "listing dead letters failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Profile handles GET /profile.
func (h *Handlers) Profile(c *gin.Context) {
	state, err := h.profile.State()
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "reading profile state failed")
		return
	}
	ok(c, http.StatusOK, state)
}

// saveEditsRequest is the PUT /profile payload. Absent fields stay
// untouched; present fields become the pending value.
type saveEditsRequest struct {
	Name      *string   `json:"name"`
	About     *string   `json:"about"`
	Languages *[]string `json:"languages"`
}

// SaveProfile handles PUT /profile.
func (h *Handlers) SaveProfile(c *gin.Context) {
	var req saveEditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid profile payload")
		return
	}
	if req.Name == nil && req.About == nil && req.Languages == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no fields to save")
		return
	}
	if err := h.profile.SaveEdits(c.Request.Context(), req.Name, req.About, req.Languages); err != nil {
		if services.IsLogicalError(err) {
			fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeSaveFailed, "saving profile failed")
		return
	}
	noContent(c)
}

// ProfilePhoto handles POST /profile/photo with the raw image as body.
func (h *Handlers) ProfilePhoto(c *gin.Context) {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "photo body is empty")
		return
	}
	if err := h.profile.SetPendingPhoto(c.Request.Context(), c.Request.Body); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSaveFailed, "storing photo failed")
		return
	}
	ok(c, http.StatusAccepted, gin.H{"status": "pending"})
}

// SyncProfile handles POST /profile/sync.
func (h *Handlers) SyncProfile(c *gin.Context) {
	if err := h.profile.SyncPendingNow(c.Request.Context()); err != nil {
		fail(c, http.StatusBadGateway, ErrCodeSyncFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "synced"})
}

// RefreshProfile handles POST /profile/refresh.
func (h *Handlers) RefreshProfile(c *gin.Context) {
	if err := h.profile.RefreshFromRemote(c.Request.Context()); err != nil {
		fail(c, http.StatusBadGateway, ErrCodeSyncFailed, err.Error())
		return
	}
	state, err := h.profile.State()
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "reading profile state failed")
		return
	}
	ok(c, http.StatusOK, state)
}
