package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

type ErrorKind string

const (
	// KindTransient covers network failures, 5xx responses and
	// malformed upstream payloads. Safe to retry.
	KindTransient ErrorKind = "transient"
	// KindRateLimit is a 429. Retryable, honoring Retry-After when set.
	KindRateLimit ErrorKind = "rate_limit"
	// KindAuth is a 401 or 403. Never retried.
	KindAuth ErrorKind = "auth"
	// KindInvalid is a 4xx the caller cannot fix by retrying.
	KindInvalid ErrorKind = "invalid"
)

// Error is a provider failure classified for retry and fallback decisions.
type Error struct {
	Provider   string
	Kind       ErrorKind
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimit
}

// NewTransient wraps a network-level failure (no HTTP status available).
func NewTransient(providerName string, err error) *Error {
	return &Error{Provider: providerName, Kind: KindTransient, Message: err.Error()}
}

// ClassifyStatus maps an upstream HTTP error response to an Error.
// The message should be the upstream error body, already extracted.
func ClassifyStatus(providerName string, status int, message string, header http.Header) *Error {
	e := &Error{Provider: providerName, Status: status, Message: message}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	case status >= 500:
		e.Kind = KindTransient
	default:
		e.Kind = KindInvalid
	}
	return e
}

// parseRetryAfter handles the delta-seconds form. The HTTP-date form is
// rare on completion APIs and is ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func IsAuth(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindAuth
}

func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable()
}
