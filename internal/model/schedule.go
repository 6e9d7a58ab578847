package model

import (
	"time"
)

// ScheduleInfo describes a single cron binding held by the scheduler
type ScheduleInfo struct {
	TaskName     string     `json:"task_name"`
	Expression   string     `json:"expression"`
	NextFireTime *time.Time `json:"next_fire_time,omitempty"`
	LastFireTime *time.Time `json:"last_fire_time,omitempty"`
	Running      bool       `json:"running"`
	RunningSince *time.Time `json:"running_since,omitempty"`
}
