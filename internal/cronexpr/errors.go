package cronexpr

import "errors"

var (
	// ErrNoFutureMatch is returned when an expression has no fire time within the search horizon
	ErrNoFutureMatch = errors.New("no matching time within search horizon")

	// ErrDescriptorNotAllowed is returned for @-descriptors and timezone prefixes
	ErrDescriptorNotAllowed = errors.New("only 5-field expressions are supported")
)
