// Package remote is the adapter to the hosted document store. It owns the
// collection layout (experiences, bookings, reviews, users, usage
// counters) plus the GridFS photo bucket, and translates driver results
// into domain types. Decoding is tolerant: a malformed document is skipped
// and logged, never fatal to the batch.
package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

// Collection names in the remote database.
const (
	colExperiences = "experiences"
	colBookings    = "experience_bookings"
	colReviews     = "experience_reviews"
	colUsers       = "users"
	colUsage       = "feature_usage_monthly"
	colDevices     = "device_distribution"
)

// Store wraps the remote database handle. All methods honor the caller's
// context deadline; the store adds no timeouts of its own.
type Store struct {
	db  *mongo.Database
	log zerolog.Logger

	hostMu    sync.RWMutex
	hostNames map[string]string
}

// Connect dials the remote store. A failed ping is logged, not returned:
// the driver reconnects on its own and the process must boot offline, so
// only a malformed URI is a hard error.
func Connect(ctx context.Context, uri, database string, log zerolog.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect remote store: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx, readpref.Primary()); err != nil {
		log.Warn().Err(err).Msg("remote store unreachable at boot, continuing offline")
	}
	return NewStore(client.Database(database), log), nil
}

// NewStore wraps an existing database handle. Used directly by tests.
func NewStore(db *mongo.Database, log zerolog.Logger) *Store {
	return &Store{db: db, log: log, hostNames: make(map[string]string)}
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// HostName resolves a host's display name, serving repeats from an
// in-process cache. A miss that also fails remotely falls back to the
// email itself.
func (s *Store) HostName(ctx context.Context, hostEmail string) string {
	s.hostMu.RLock()
	name, ok := s.hostNames[hostEmail]
	s.hostMu.RUnlock()
	if ok {
		return name
	}

	name = hostEmail
	var doc bson.M
	err := s.db.Collection(colUsers).FindOne(ctx, bson.M{"_id": hostEmail}).Decode(&doc)
	if err == nil {
		if n := asString(doc["name"]); n != "" {
			name = n
		}
	} else if err != mongo.ErrNoDocuments {
		s.log.Debug().Err(err).Str("host", hostEmail).Msg("host name lookup failed")
		return name // do not cache a transient failure
	}

	s.hostMu.Lock()
	s.hostNames[hostEmail] = name
	s.hostMu.Unlock()
	return name
}

// resolveHostNames fills the display name of records whose document did
// not carry one, looking hosts up through the session cache. Call it on
// final pages only; every uncached host costs a users lookup.
func (s *Store) resolveHostNames(ctx context.Context, records []domain.Experience) {
	for i := range records {
		if records[i].HostName == "" && records[i].HostID != "" {
			records[i].HostName = s.HostName(ctx, records[i].HostID)
		}
	}
}

// nowUTC is stubbed in tests.
var nowUTC = func() time.Time { return time.Now().UTC() }
