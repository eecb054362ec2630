package remote

import (
	"math/big"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tbourn/go-experiences-backend/internal/domain"
)

// decodeExperience converts a raw document into a domain record. ok is
// false when the document is unusable (missing id or title); individual
// bad fields degrade to zero values instead of failing the document.
func decodeExperience(doc bson.M) (domain.Experience, bool) {
	e := domain.Experience{
		ID:            asString(doc["_id"]),
		Title:         asString(doc["title"]),
		Department:    asString(doc["department"]),
		AvgRating:     asFloat(doc["avgRating"]),
		ReviewsCount:  asInt(doc["reviewsCount"]),
		HostVerified:  asBool(doc["hostVerified"]),
		HostID:        asString(doc["hostId"]),
		HostName:      asString(doc["hostName"]),
		Latitude:      asFloat(doc["latitude"]),
		Longitude:     asFloat(doc["longitude"]),
		SkillsToLearn: asStringSlice(doc["skillsToLearn"]),
		SkillsToTeach: asStringSlice(doc["skillsToTeach"]),
		Images:        asStringSlice(doc["images"]),
		PriceCOP:      int64(asFloat(doc["priceCOP"])),
		Duration:      asInt(doc["duration"]),
		IsActive:      asBool(doc["isActive"]),
	}
	if e.ID == "" || e.Title == "" {
		return domain.Experience{}, false
	}
	return e, true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asFloat accepts every numeric shape the driver may hand back.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case primitive.Decimal128:
		f, _, err := big.ParseFloat(n.String(), 10, 0, big.ToNearestEven)
		if err != nil || f == nil {
			return 0
		}
		out, _ := f.Float64()
		return out
	default:
		return 0
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// asStringSlice tolerates both []string and the driver's []any shape,
// dropping non-string elements.
func asStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case bson.A:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
