package remote

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IncrementFeatureUse bumps a per-user, per-month usage counter. Document
// id is "{uid}_{YYYY-MM}"; the upsert makes first use of a month create
// the document. Best-effort: callers log and move on when this fails.
func (s *Store) IncrementFeatureUse(ctx context.Context, uid, feature string) error {
	month := nowUTC().Format("2006-01")
	id := fmt.Sprintf("%s_%s", uid, month)
	_, err := s.db.Collection(colUsage).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc":         bson.M{"features." + feature: 1},
			"$setOnInsert": bson.M{"uid": uid, "month": month},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("increment feature use %s/%s: %w", uid, feature, err)
	}
	return nil
}

// ReportDeviceDistribution bumps the install counter for a device label.
// Intended to run once per install; the caller latches that locally.
func (s *Store) ReportDeviceDistribution(ctx context.Context, label string) error {
	_, err := s.db.Collection(colDevices).UpdateOne(ctx,
		bson.M{"_id": label},
		bson.M{"$inc": bson.M{"count": 1}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("report device distribution %q: %w", label, err)
	}
	return nil
}
