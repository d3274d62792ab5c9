package domain

import "errors"

var (
	// ErrDeployNotFound is returned when a deploy cannot be resolved via RPC
	// or its header carries no sender account.
	ErrDeployNotFound = errors.New("deploy not found")

	// ErrDeployNotExecuted is returned when a deploy exists but has not been
	// included in a block yet.
	ErrDeployNotExecuted = errors.New("deploy not executed yet")

	// ErrPendingPaymentNotFound is returned when no observed payment matches
	// a deploy hash.
	ErrPendingPaymentNotFound = errors.New("pending payment not found")

	// ErrGrantNotFound is returned when no access grant exists for a token.
	ErrGrantNotFound = errors.New("access grant not found")

	// ErrOwnerNotFound is returned when a contract package has no resolvable
	// owner public key.
	ErrOwnerNotFound = errors.New("contract package owner not found")

	// ErrStoryNotFound is returned when a story does not exist.
	ErrStoryNotFound = errors.New("story not found")
)
