// Package domain defines the persistence and transfer models for the
// experiences marketplace data layer: cached experience records, durable
// pending writes (bookings awaiting retry, dead-lettered rejections), the
// locally mirrored profile, and the refresh policy metadata. The GORM-mapped
// types back the embedded SQLite cache; the remaining types travel between
// the remote document store, the key-value stores, and the orchestrators.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Experience is a cached experience listing, one row per record in the
// embedded SQLite cache. The cache is the offline source of truth: rows are
// written in capped batches after successful remote refreshes and are never
// evicted by the storage layer itself.
//
// Fields:
//   - ID: the remote document id (natural key, primary key here).
//   - HostID: the host reference normalized to a lowercase email.
//   - Latitude / Longitude: (0,0) means "no location", not a real place.
//   - SkillsToLearn / SkillsToTeach / Images: stored as JSON arrays.
//   - CachedAt: when this row was last written from remote state.
type Experience struct {
	ID            string    `json:"id"            gorm:"type:varchar(64);primaryKey"`
	Title         string    `json:"title"         gorm:"type:varchar(255);not null"`
	Department    string    `json:"department"    gorm:"type:varchar(128);index"`
	AvgRating     float64   `json:"avg_rating"`
	ReviewsCount  int       `json:"reviews_count"`
	HostVerified  bool      `json:"host_verified"`
	HostID        string    `json:"host_id"       gorm:"type:varchar(255);index"`
	HostName      string    `json:"host_name"     gorm:"type:varchar(255)"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	SkillsToLearn []string  `json:"skills_to_learn" gorm:"serializer:json"`
	SkillsToTeach []string  `json:"skills_to_teach" gorm:"serializer:json"`
	Images        []string  `json:"images"          gorm:"serializer:json"`
	PriceCOP      int64     `json:"price_cop"`
	Duration      int       `json:"duration"`
	IsActive      bool      `json:"is_active"`
	CachedAt      time.Time `json:"cached_at"`
}

// TableName returns the database table name for Experience.
func (Experience) TableName() string { return "experiences" }

// HasLocation reports whether the record carries real coordinates.
func (e Experience) HasLocation() bool { return e.Latitude != 0 || e.Longitude != 0 }

// Booking is a reservation request against an experience. It is created
// client-side on confirm and is immutable once the remote store accepts it.
// Capacity and date-overlap constraints are enforced remotely.
type Booking struct {
	ExperienceID  string    `json:"experience_id" bson:"experienceId"`
	TravelerEmail string    `json:"traveler_email" bson:"travelerEmail"`
	StartAt       time.Time `json:"start_at" bson:"startAt"`
	EndAt         time.Time `json:"end_at" bson:"endAt"`
	PeopleCount   int       `json:"people_count" bson:"peopleCount"`
	AmountCOP     int64     `json:"amount_cop" bson:"amountCOP"`
}

// PendingBooking is a durable snapshot of a Booking whose remote commit
// failed with a network-class error. It stays queued until a retry succeeds
// or the remote store rejects it for a logical reason. Enqueueing is
// intentionally not deduplicated: duplicate submissions create duplicate
// pending rows.
//
// Fields:
//   - ID: UUID primary key, local only.
//   - EnqueuedAt: insertion order; retries preserve relative order.
//   - Attempts: number of retry attempts so far (diagnostics only).
type PendingBooking struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	ExperienceID  string    `json:"experience_id"  gorm:"type:varchar(64);not null"`
	TravelerEmail string    `json:"traveler_email" gorm:"type:varchar(255);not null"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	PeopleCount   int       `json:"people_count"`
	AmountCOP     int64     `json:"amount_cop"`
	Attempts      int       `json:"attempts"`
	EnqueuedAt    time.Time `json:"enqueued_at" gorm:"index"`
}

// TableName returns the database table name for PendingBooking.
func (PendingBooking) TableName() string { return "pending_bookings" }

// Booking converts the pending row back into the Booking it snapshots.
func (p PendingBooking) Booking() Booking {
	return Booking{
		ExperienceID:  p.ExperienceID,
		TravelerEmail: p.TravelerEmail,
		StartAt:       p.StartAt,
		EndAt:         p.EndAt,
		PeopleCount:   p.PeopleCount,
		AmountCOP:     p.AmountCOP,
	}
}

// DeadLetter records a pending booking that was permanently rejected, so
// lost writes stay auditable instead of being deleted silently.
type DeadLetter struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	ExperienceID  string         `json:"experience_id"  gorm:"type:varchar(64);not null"`
	TravelerEmail string         `json:"traveler_email" gorm:"type:varchar(255)"`
	Reason        string         `json:"reason"         gorm:"type:varchar(255);not null"`
	Attempts      int            `json:"attempts"`
	EnqueuedAt    time.Time      `json:"enqueued_at"`
	DiscardedAt   time.Time      `json:"discarded_at" gorm:"index"`
	DeletedAt     gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for DeadLetter.
func (DeadLetter) TableName() string { return "dead_letters" }

// GeoBucket is one coarse geographic cell (~1.1 km) of the bucket cache:
// an ordered list of the nearest record ids plus the write timestamp.
// Entries are overwritten wholesale on each online refresh near the cell,
// never merged. Staleness is the caller's judgement via UpdatedAt.
type GeoBucket struct {
	Key       string    `json:"key"`
	IDs       []string  `json:"ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyMeta holds the refresh policy knobs and the anchors left behind by
// the last successful refresh. It is read once at orchestrator startup and
// rewritten after every refresh; readers tolerate eventual consistency with
// in-flight updates.
type PolicyMeta struct {
	LastSyncAt      time.Time `json:"last_sync_at"`
	LastRemoteCount int       `json:"last_remote_count"`
	LastRefreshAt   time.Time `json:"last_refresh_at"`
	LastLat         float64   `json:"last_lat"`
	LastLng         float64   `json:"last_lng"`

	AutoRefreshEnabled bool          `json:"auto_refresh_enabled"`
	MoveDistanceM      float64       `json:"move_distance_m"`
	RefreshMinInterval time.Duration `json:"refresh_min_interval"`
}

// DefaultPolicy returns the policy used before any refresh has run.
func DefaultPolicy() PolicyMeta {
	return PolicyMeta{
		AutoRefreshEnabled: true,
		MoveDistanceM:      250,
		RefreshMinInterval: 10 * time.Second,
	}
}

// CachedProfile mirrors the editable remote profile fields locally.
type CachedProfile struct {
	DocID          string    `json:"doc_id"` // users document id (email)
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	CreatedAt      time.Time `json:"created_at"`
	About          string    `json:"about"`
	Languages      []string  `json:"languages"`
	AvgHostRating  float64   `json:"avg_host_rating"`
	PhotoURLRemote string    `json:"photo_url_remote"`
	PhotoCachePath string    `json:"photo_cache_path"`
}

// PendingPatch holds only the profile fields that still differ from the
// last known remote state. Nil means "no pending change for this field".
// New edits merge into an existing patch field by field, newest wins.
type PendingPatch struct {
	Name      *string   `json:"name,omitempty"`
	About     *string   `json:"about,omitempty"`
	Languages *[]string `json:"languages,omitempty"`
}

// IsEmpty reports whether the patch carries no pending fields.
func (p PendingPatch) IsEmpty() bool {
	return p.Name == nil && p.About == nil && p.Languages == nil
}

// Merge overlays newer onto p, newest non-nil field winning while
// untouched fields are preserved.
func (p PendingPatch) Merge(newer PendingPatch) PendingPatch {
	out := p
	if newer.Name != nil {
		out.Name = newer.Name
	}
	if newer.About != nil {
		out.About = newer.About
	}
	if newer.Languages != nil {
		out.Languages = newer.Languages
	}
	return out
}

// ProfileState is the durable local profile record: the cached mirror plus
// the two independent pending slots (field patch and photo path).
type ProfileState struct {
	Cached           *CachedProfile `json:"cached,omitempty"`
	PendingPatch     PendingPatch   `json:"pending_patch"`
	PendingPhotoPath string         `json:"pending_photo_path,omitempty"`
}

// HasPendingSync reports whether anything still awaits a remote push.
func (s ProfileState) HasPendingSync() bool {
	return !s.PendingPatch.IsEmpty() || s.PendingPhotoPath != ""
}
