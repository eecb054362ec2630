// Package repo implements the local persistence layer for the offline cache,
// backed by GORM. This file provides repository functions for the cached
// Experience records, which are the offline source of truth.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
//
// Functions:
//
//   - GetAllExperiences(ctx, db) -> []domain.Experience, error
//     Returns every cached record.
//
//   - GetExperiencesByIDs(ctx, db, ids) -> []domain.Experience, error
//     Returns the cached records for ids, preserving the order of ids.
//
//   - GetNearestExperiences(ctx, db, lat, lng, k) -> []domain.Experience, error
//     Full-table scan ranked by haversine distance; records without a real
//     location sort last and are excluded.
//
//   - UpsertExperiences(ctx, db, records) -> error
//     Insert-or-replace keyed by id, all-or-nothing inside one transaction.
package repo

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-experiences-backend/internal/domain"
	"github.com/tbourn/go-experiences-backend/internal/geo"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetAllExperiences returns every cached experience record. It returns an
// empty slice when the cache is empty. On DB error, it returns the error.
func GetAllExperiences(ctx context.Context, db *gorm.DB) ([]domain.Experience, error) {
	var out []domain.Experience
	err := db.WithContext(ctx).Find(&out).Error
	return out, err
}

// GetExperiencesByIDs returns the cached records for the given ids. The
// result preserves the order of ids; ids with no cached row are skipped.
// An empty id list returns an empty slice without touching the database.
func GetExperiencesByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Experience, error) {
	if len(ids) == 0 {
		return []domain.Experience{}, nil
	}
	var rows []domain.Experience
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Experience, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]domain.Experience, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetNearestExperiences ranks the whole cached table by great-circle
// distance from (lat,lng) and returns the k closest records. There is no
// spatial index; the cache is small by construction (capped writes per
// refresh), so a full scan is acceptable. Records without a real location
// are excluded so a missing coordinate never outranks a true nearby record.
func GetNearestExperiences(ctx context.Context, db *gorm.DB, lat, lng float64, k int) ([]domain.Experience, error) {
	all, err := GetAllExperiences(ctx, db)
	if err != nil {
		return nil, err
	}
	withLoc := all[:0]
	for _, e := range all {
		if e.HasLocation() {
			withLoc = append(withLoc, e)
		}
	}
	sort.SliceStable(withLoc, func(i, j int) bool {
		di := geo.HaversineKm(lat, lng, withLoc[i].Latitude, withLoc[i].Longitude)
		dj := geo.HaversineKm(lat, lng, withLoc[j].Latitude, withLoc[j].Longitude)
		return di < dj
	})
	if k >= 0 && len(withLoc) > k {
		withLoc = withLoc[:k]
	}
	return withLoc, nil
}

// UpsertExperiences writes records into the cache with insert-or-replace
// semantics keyed by id, inside a single transaction so a batch is never
// partially visible. CachedAt is stamped on every written row. Calling it
// twice with the same set leaves the cache in the same observable state.
func UpsertExperiences(ctx context.Context, db *gorm.DB, records []domain.Experience) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := make([]domain.Experience, len(records))
	copy(batch, records)
	for i := range batch {
		batch[i].CachedAt = now
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&batch).Error
	})
}
