// Package utils holds small lenient-parsing helpers for query-string
// values. Handlers prefer a sensible default over a parse error for
// optional parameters, so every helper here swallows bad input and
// returns the caller's fallback.
package utils

import (
	"strconv"
	"time"
)

// AtoiDefault converts s to an int, returning def when s is empty or not
// a valid integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParseFloatDefault converts a string to a float64 using strconv.ParseFloat.
// If the string is empty or cannot be parsed, it returns the provided
// default value instead.
//
// Example:
//
//	f := utils.ParseFloatDefault("4.65", 0) // returns 4.65
//	f = utils.ParseFloatDefault("", 1.5)    // returns 1.5
//	f = utils.ParseFloatDefault("x", 0)     // returns 0
func ParseFloatDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

// ParseTimeRFC3339 parses an RFC 3339 timestamp. If the string is empty or
// malformed, it returns the zero time and false.
func ParseTimeRFC3339(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
