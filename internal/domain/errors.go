package domain

import "errors"

var (
	ErrNotFound            = errors.New("resource not found")
	ErrInsufficientBalance = errors.New("insufficient pool balance")
	ErrInvalidPayload      = errors.New("invalid settlement payload")
	ErrInvalidTrade        = errors.New("invalid trade")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAllocation   = errors.New("invalid fee pool allocation")
	ErrUnknownJobType      = errors.New("unknown settlement job type")
	ErrLostClaim           = errors.New("settlement job claim no longer held")
	ErrPoolInvariant       = errors.New("fee pool balance invariant violated")
)
