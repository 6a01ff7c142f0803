package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrLowBalance    = errors.New("balance below low-balance floor")
	ErrLockHeld      = errors.New("lock already held")
	ErrDisabled      = errors.New("copier disabled")
)
