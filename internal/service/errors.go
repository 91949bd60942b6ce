package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/maheshrc27/postflow/internal/models"
)

// ScheduleParseError is returned when the requested post time cannot be parsed.
type ScheduleParseError struct {
	Value string
	Err   error
}

func (e *ScheduleParseError) Error() string {
	return fmt.Sprintf("invalid post time %q: %v", e.Value, e.Err)
}

func (e *ScheduleParseError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a durable store failure for a single operation.
type PersistenceError struct {
	Op  string
	ID  int64
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("store %s (id %d): %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PromotionError reports a sweep failure for one record.
type PromotionError struct {
	RecordID int64
	Stage    string
	Err      error
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("promote record %d at %s: %v", e.RecordID, e.Stage, e.Err)
}

func (e *PromotionError) Unwrap() error { return e.Err }

type PublishError struct {
	Provider models.Provider
	Kind     models.ErrorKind
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s publish failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func NewPublishError(provider models.Provider, kind models.ErrorKind, err error) *PublishError {
	return &PublishError{Provider: provider, Kind: kind, Err: err}
}

// ClassifyHTTPStatus maps a platform API status code to a failure kind.
func ClassifyHTTPStatus(status int) models.ErrorKind {
	switch {
	case status < 400:
		return models.ErrorKindNone
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return models.ErrorKindAuthExpired
	case status == http.StatusTooManyRequests:
		return models.ErrorKindRateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		return models.ErrorKindTransientNetwork
	default:
		return models.ErrorKindPermanentRejection
	}
}

// KindOf extracts the failure kind from an error returned by a publisher.
// Errors that are not a *PublishError are classified by their cause.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindNone
	}

	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.ErrorKindTransientNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.ErrorKindTransientNetwork
	}

	return models.ErrorKindInternal
}
