package task

import "errors"

var (
	// ErrNoData is returned by a Source when there is nothing to report
	ErrNoData = errors.New("no data available")
)
