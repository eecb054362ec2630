package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("cache_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func exp(id string, lat, lng float64) domain.Experience {
	return domain.Experience{
		ID:        id,
		Title:     "exp " + id,
		HostID:    "host@example.com",
		Latitude:  lat,
		Longitude: lng,
		IsActive:  true,
	}
}

func TestUpsertExperiences_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	err := UpsertExperiences(context.Background(), db, []domain.Experience{exp("a", 1, 1)})
	if err == nil {
		t.Fatal("expected error writing without table")
	}
}

func TestUpsertExperiences_EmptyBatchIsNoop(t *testing.T) {
	db := newTestDB(t) // no table needed: empty batch must not touch the DB
	if err := UpsertExperiences(context.Background(), db, nil); err != nil {
		t.Fatalf("empty upsert: %v", err)
	}
}

func TestUpsertExperiences_InsertAndReplace(t *testing.T) {
	db := newTestDB(t, &domain.Experience{})
	ctx := context.Background()

	if err := UpsertExperiences(ctx, db, []domain.Experience{exp("a", 4.71, -74.07)}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	changed := exp("a", 4.71, -74.07)
	changed.Title = "renamed"
	if err := UpsertExperiences(ctx, db, []domain.Experience{changed, exp("b", 4.72, -74.07)}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	all, err := GetAllExperiences(ctx, db)
	if err != nil {
		t.Fatalf("GetAllExperiences: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d rows, want 2", len(all))
	}
	var a domain.Experience
	if err := db.First(&a, "id = ?", "a").Error; err != nil {
		t.Fatalf("load a: %v", err)
	}
	if a.Title != "renamed" {
		t.Fatalf("replace did not apply, title = %q", a.Title)
	}
	if a.CachedAt.IsZero() {
		t.Fatal("CachedAt not stamped")
	}
}

func TestUpsertExperiences_Idempotent(t *testing.T) {
	db := newTestDB(t, &domain.Experience{})
	ctx := context.Background()
	batch := []domain.Experience{exp("a", 1, 1), exp("b", 2, 2)}

	if err := UpsertExperiences(ctx, db, batch); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := UpsertExperiences(ctx, db, batch); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	all, err := GetAllExperiences(ctx, db)
	if err != nil {
		t.Fatalf("GetAllExperiences: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("double upsert changed row count: %d", len(all))
	}
}

func TestGetExperiencesByIDs_PreservesOrderAndSkipsMissing(t *testing.T) {
	db := newTestDB(t, &domain.Experience{})
	ctx := context.Background()
	if err := UpsertExperiences(ctx, db, []domain.Experience{
		exp("a", 1, 1), exp("b", 2, 2), exp("c", 3, 3),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := GetExperiencesByIDs(ctx, db, []string{"c", "missing", "a"})
	if err != nil {
		t.Fatalf("GetExperiencesByIDs: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("order not preserved: %+v", got)
	}
}

func TestGetExperiencesByIDs_EmptyInput(t *testing.T) {
	db := newTestDB(t, &domain.Experience{})
	got, err := GetExperiencesByIDs(context.Background(), db, nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty input: got %v, %v", got, err)
	}
}

func TestGetNearestExperiences_RanksByDistance(t *testing.T) {
	db := newTestDB(t, &domain.Experience{})
	ctx := context.Background()
	// far, near, mid relative to Bogotá
	if err := UpsertExperiences(ctx, db, []domain.Experience{
		exp("far", 10.4, -75.5),
		exp("near", 4.712, -74.073),
		exp("mid", 5.07, -75.52),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := GetNearestExperiences(ctx, db, 4.7110, -74.0721, 2)
	if err != nil {
		t.Fatalf("GetNearestExperiences: %v", err)
	}
	if len(got) != 2 || got[0].ID != "near" || got[1].ID != "mid" {
		t.Fatalf("ranking wrong: %+v", got)
	}
}

// A record with no stored location decodes as (0,0) and must never appear
// ahead of a true nearby record; it is excluded from nearest ranking.
func TestGetNearestExperiences_ExcludesMissingLocation(t *testing.T) {
	db := newTestDB(t, &domain.Experience{})
	ctx := context.Background()
	if err := UpsertExperiences(ctx, db, []domain.Experience{
		exp("nowhere", 0, 0),
		exp("near", 4.712, -74.073),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := GetNearestExperiences(ctx, db, 4.7110, -74.0721, 5)
	if err != nil {
		t.Fatalf("GetNearestExperiences: %v", err)
	}
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("missing-location record leaked into ranking: %+v", got)
	}
}
