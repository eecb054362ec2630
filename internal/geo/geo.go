// Package geo provides the small amount of geographic math the caching and
// refresh layers depend on: great-circle distance and the coarse cell key
// used to index the local bucket cache.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used for haversine distances.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between two
// coordinates using the haversine formula.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// HaversineM returns the great-circle distance in meters.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	return HaversineKm(lat1, lon1, lat2, lon2) * 1000
}

// BucketKey maps a coordinate to its ~1.1 km cache cell by rounding both
// components to two decimal places. Coordinates inside the same cell share
// a key, so a device returning to a recently visited area hits the same
// bucket entry.
func BucketKey(lat, lng float64) string {
	return fmt.Sprintf("%.2f_%.2f", lat, lng)
}

// BoundingBox returns [minLat, maxLat, minLon, maxLon] for a radius around
// a point. Good enough as a cheap server-side prefilter; callers still rank
// by true haversine distance.
func BoundingBox(lat, lon, radiusKm float64) [4]float64 {
	dLat := radiusKm / 111.0
	cosLat := math.Cos(toRadians(lat))
	if cosLat < 0.0001 {
		cosLat = 0.0001
	}
	dLon := radiusKm / (111.0 * cosLat)
	return [4]float64{lat - dLat, lat + dLat, lon - dLon, lon + dLon}
}

// HasLocation reports whether a coordinate pair is a real location. Records
// with no stored location decode as (0,0), which callers must treat as
// "no location" rather than a point in the Gulf of Guinea.
func HasLocation(lat, lng float64) bool {
	return lat != 0 || lng != 0
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
