package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrIntegrity is returned when a mutation would break referential integrity
	// (category cycles, dangling references). Nothing is persisted.
	ErrIntegrity = errors.New("integrity violation")
	ErrStorage   = errors.New("storage error")
	ErrParse     = errors.New("parse error")
	ErrInvalid   = errors.New("invalid input")
)

type FetchErrorKind string

const (
	NetworkError    FetchErrorKind = "network"
	HttpClientError FetchErrorKind = "http_client"
	HttpServerError FetchErrorKind = "http_server"
	RateLimited     FetchErrorKind = "rate_limited"
)

// FetchError describes a failed retrieval of a feed document
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Kind, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Permanent reports whether retrying without a manual reset is pointless
func (e *FetchError) Permanent() bool {
	return e.Kind == HttpClientError
}

func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Permanent()
}

// RetryAfter returns the delay mandated by the remote side, if any
func RetryAfter(err error) (time.Duration, bool) {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == RateLimited {
		return fe.RetryAfter, true
	}
	return 0, false
}
