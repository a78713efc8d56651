package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredential   = errors.New("auth: invalid credential")
	ErrRateLimited         = errors.New("auth: rate limited")
	ErrUnauthorizedSponsor = errors.New("auth: unauthorized sponsor")
	ErrNoActiveShift       = errors.New("auth: no active shift")
	ErrShiftCapacity       = errors.New("auth: shift capacity exceeded")
	ErrNotFound            = errors.New("auth: not found")
	ErrExpired             = errors.New("auth: session expired")
	ErrShiftEnded          = errors.New("auth: shift ended")
	ErrUnavailable         = errors.New("auth: store unavailable")
	ErrInvalidInput        = errors.New("auth: invalid input")
)

// RateLimitedError reports an active lockout and how long it lasts.
// errors.Is(err, ErrRateLimited) matches it.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("auth: rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// storeErr passes the engine's own sentinels through and folds anything
// else (connectivity, malformed rows, timeouts) into ErrUnavailable so
// callers fail closed without seeing storage internals.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrNotFound, ErrNoActiveShift, ErrShiftCapacity, ErrExpired,
		ErrShiftEnded, ErrInvalidInput, ErrRateLimited,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
