package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

// ErrUnknownUser means no users document exists for the email.
var ErrUnknownUser = errors.New("remote: user not found")

// GetUser loads the remote profile document for an email.
func (s *Store) GetUser(ctx context.Context, email string) (domain.CachedProfile, error) {
	var doc bson.M
	err := s.db.Collection(colUsers).FindOne(ctx, bson.M{"_id": email}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.CachedProfile{}, ErrUnknownUser
		}
		return domain.CachedProfile{}, fmt.Errorf("load user %s: %w", email, err)
	}

	p := domain.CachedProfile{
		DocID:          email,
		Name:           asString(doc["name"]),
		Email:          email,
		About:          asString(doc["about"]),
		Languages:      asStringSlice(doc["languages"]),
		AvgHostRating:  asFloat(doc["avgHostRating"]),
		PhotoURLRemote: asString(doc["photoUrl"]),
	}
	if t, ok := doc["createdAt"].(time.Time); ok {
		p.CreatedAt = t
	}
	return p, nil
}

// PatchUser pushes only the fields present in the patch. An empty patch is
// a no-op.
func (s *Store) PatchUser(ctx context.Context, email string, patch domain.PendingPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	set := bson.M{}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.About != nil {
		set["about"] = *patch.About
	}
	if patch.Languages != nil {
		set["languages"] = *patch.Languages
	}
	set["updatedAt"] = nowUTC()

	res, err := s.db.Collection(colUsers).UpdateOne(ctx, bson.M{"_id": email}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("patch user %s: %w", email, err)
	}
	if res.MatchedCount == 0 {
		return ErrUnknownUser
	}
	return nil
}

// SetUserPhotoURL records the uploaded photo's public path on the user
// document.
func (s *Store) SetUserPhotoURL(ctx context.Context, email, url string) error {
	res, err := s.db.Collection(colUsers).UpdateOne(ctx,
		bson.M{"_id": email},
		bson.M{"$set": bson.M{"photoUrl": url, "updatedAt": nowUTC()}})
	if err != nil {
		return fmt.Errorf("set photo url for %s: %w", email, err)
	}
	if res.MatchedCount == 0 {
		return ErrUnknownUser
	}
	return nil
}
