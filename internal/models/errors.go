package models

import "errors"

// Store level
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("concurrent modification")
	ErrDuplicate    = errors.New("already exists")
	ErrInvalidOwner = errors.New("owner must be an existing parent account")
)

// Business rules
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrLimitExceeded     = errors.New("amount exceeds spending limit")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrAccountInactive   = errors.New("account is inactive")
	ErrNotChild          = errors.New("operation requires a child account")
)

// Infrastructure and access
var (
	ErrTransientFailure = errors.New("transient failure, try again")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
)
