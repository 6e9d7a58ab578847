package scheduler

import "time"

const (
	DefaultPollInterval = 30 * time.Second
	DefaultMisfireGrace = 300 * time.Second
	DefaultWorkers      = 10

	maxConsecutiveScanFailures = 3
)
