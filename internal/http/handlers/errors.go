// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These symbolic constants map to HTTP responses through the `fail()`
// helper and give clients a stable, machine-readable taxonomy alongside
// the human-readable message. Generic codes mirror common HTTP status
// semantics; the domain-specific ones cover sync outcomes a status alone
// cannot convey.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "conflict",
//	  "message": "remote: requested dates are unavailable"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeRefreshFailed    = "refresh_failed"
	ErrCodeSaveFailed       = "save_failed"
	ErrCodeSyncFailed       = "sync_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
