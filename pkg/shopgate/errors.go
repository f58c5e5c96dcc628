package shopgate

import "errors"

var (
	// ErrRecordNotFound is returned when no record exists for a customer
	ErrRecordNotFound = errors.New("entitlement record not found")

	// ErrUsesNotTracked is returned when decrementing a record whose
	// remaining-uses counter is absent
	ErrUsesNotTracked = errors.New("remaining uses not tracked")

	// ErrUsesExhausted is returned when decrementing a counter that is
	// already at or below zero
	ErrUsesExhausted = errors.New("remaining uses exhausted")

	// ErrInvalidProfile is returned for a profile without a customer id
	ErrInvalidProfile = errors.New("invalid profile")
)
