package handler

import "errors"

var (
	// ErrUnknownKind is returned when a task declaration names an unknown kind
	ErrUnknownKind = errors.New("unknown task kind")

	// ErrUnsupportedSource is returned for a hot-search source that has no site definition
	ErrUnsupportedSource = errors.New("unsupported hot-search source")

	// ErrResponseTooLarge is returned when a response body exceeds the read limit
	ErrResponseTooLarge = errors.New("response body too large")

	// ErrUnexpectedData is returned when Format receives data it did not fetch
	ErrUnexpectedData = errors.New("unexpected data type")
)
