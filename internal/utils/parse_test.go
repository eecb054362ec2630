package utils

import (
	"testing"
	"time"
)

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		{"", 20, 20},
		{"5", 0, 5},
		{"-3", 0, -3},
		{"abc", 7, 7},
		{"1.5", 4, 4},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestParseFloatDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  float64
		want float64
	}{
		// empty -> default
		{"", 1.5, 1.5},
		// valid floats
		{"4.65", 0, 4.65},
		{"-74.05", 0, -74.05},
		{"0", 9, 0},
		// invalid -> default (no trim)
		{"x", 2, 2},
		{" 4.65", 7, 7},
	}

	for _, tc := range cases {
		if got := ParseFloatDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("ParseFloatDefault(%q, %v) = %v; want %v", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestParseTimeRFC3339(t *testing.T) {
	got, ok := ParseTimeRFC3339("2026-07-01T10:00:00Z")
	if !ok {
		t.Fatal("expected a valid parse")
	}
	want := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, ok := ParseTimeRFC3339(""); ok {
		t.Fatal("empty input must not parse")
	}
	if _, ok := ParseTimeRFC3339("01/07/2026"); ok {
		t.Fatal("non-RFC3339 input must not parse")
	}
}
