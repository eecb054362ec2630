package geo

import (
	"math"
	"testing"
)

func TestHaversineKm_ZeroDistance(t *testing.T) {
	if d := HaversineKm(4.7110, -74.0721, 4.7110, -74.0721); d != 0 {
		t.Fatalf("distance to self = %v, want 0", d)
	}
}

func TestHaversineKm_KnownDistance(t *testing.T) {
	// Bogotá -> Medellín is roughly 246 km great-circle.
	d := HaversineKm(4.7110, -74.0721, 6.2442, -75.5812)
	if d < 230 || d > 260 {
		t.Fatalf("Bogotá-Medellín = %v km, want ~246", d)
	}
}

func TestHaversineKm_Symmetric(t *testing.T) {
	a := HaversineKm(4.71, -74.07, 4.60, -74.08)
	b := HaversineKm(4.60, -74.08, 4.71, -74.07)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("asymmetric distance: %v vs %v", a, b)
	}
}

func TestHaversineM(t *testing.T) {
	km := HaversineKm(4.71, -74.07, 4.72, -74.07)
	m := HaversineM(4.71, -74.07, 4.72, -74.07)
	if math.Abs(m-km*1000) > 1e-6 {
		t.Fatalf("meters = %v, want %v", m, km*1000)
	}
}

func TestBucketKey(t *testing.T) {
	cases := map[string]struct {
		lat, lng float64
		want     string
	}{
		"bogota":        {4.7110, -74.0721, "4.71_-74.07"},
		"rounds_up":     {4.7169, -74.0750, "4.72_-74.07"},
		"zero":          {0, 0, "0.00_0.00"},
		"negative_both": {-33.4489, -70.6693, "-33.45_-70.67"},
	}
	for name, tc := range cases {
		if got := BucketKey(tc.lat, tc.lng); got != tc.want {
			t.Errorf("%s: BucketKey(%v,%v) = %q, want %q", name, tc.lat, tc.lng, got, tc.want)
		}
	}
}

func TestBucketKey_SameCell(t *testing.T) {
	// Positions a few hundred meters apart should share a cell.
	if BucketKey(4.711, -74.071) != BucketKey(4.712, -74.073) {
		t.Fatal("nearby positions should map to the same bucket")
	}
}

func TestBoundingBox_ContainsCenter(t *testing.T) {
	bb := BoundingBox(4.71, -74.07, 5)
	if bb[0] >= 4.71 || bb[1] <= 4.71 || bb[2] >= -74.07 || bb[3] <= -74.07 {
		t.Fatalf("bounding box %v does not contain its center", bb)
	}
}

func TestBoundingBox_PolarGuard(t *testing.T) {
	bb := BoundingBox(90, 0, 5)
	if math.IsInf(bb[3], 0) || math.IsNaN(bb[3]) {
		t.Fatalf("longitude delta unbounded at pole: %v", bb)
	}
}

func TestHasLocation(t *testing.T) {
	if HasLocation(0, 0) {
		t.Fatal("(0,0) must be treated as no location")
	}
	if !HasLocation(4.71, -74.07) {
		t.Fatal("real coordinates reported as no location")
	}
	if !HasLocation(0, -74.07) {
		t.Fatal("zero latitude with real longitude is a location")
	}
}
