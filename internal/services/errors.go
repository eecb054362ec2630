// Package services implements the orchestrators that sit between the HTTP
// surface and the storage tiers: feed, map, booking queue, and profile
// sync. This file centralizes the error taxonomy every retry decision in
// the package relies on.
//
// Three classes exist. Network-class errors are transient transport
// failures and are always retryable. Logical errors are remote rejections
// of a well-formed request; retrying the identical payload can never
// succeed, so they get exactly one attempt. Everything else is unknown and
// is reported without retry.
package services

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"

	"github.com/tbourn/go-experiences-backend/internal/remote"
)

// ErrOffline is returned by operations that require connectivity when the
// oracle reports none.
var ErrOffline = errors.New("device is offline")

// ErrClosed is returned when an orchestrator is used after Close.
var ErrClosed = errors.New("orchestrator is closed")

// ErrorClass buckets a failure for retry decisions.
type ErrorClass int

const (
	// ClassUnknown: not retryable, reported as-is.
	ClassUnknown ErrorClass = iota
	// ClassNetwork: transient transport failure, retryable.
	ClassNetwork
	// ClassLogical: remote rejection of a valid request, never retried.
	ClassLogical
)

// Classify buckets err per the taxonomy. Logical rejections win over
// network shapes when an error somehow wraps both.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case IsLogicalError(err):
		return ClassLogical
	case IsNetworkError(err):
		return ClassNetwork
	default:
		return ClassUnknown
	}
}

// IsNetworkError reports whether err is a transient transport failure:
// timeouts, DNS, refused/reset connections, generic I/O breakage, or a
// driver-level server selection failure.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	var sel topology.ServerSelectionError
	return errors.As(err, &sel)
}

// IsLogicalError reports whether err is a terminal remote rejection.
func IsLogicalError(err error) bool {
	return errors.Is(err, remote.ErrOverCapacity) ||
		errors.Is(err, remote.ErrDatesUnavailable) ||
		errors.Is(err, remote.ErrNoTraveler) ||
		errors.Is(err, remote.ErrUnknownExperience)
}
