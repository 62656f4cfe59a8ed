package models

import "time"

// ScheduleTimeLayout is the client-local time format accepted for schedules.
const ScheduleTimeLayout = "2006-01-02 15:04:05"

// ScheduledBatch is a Batch whose activation is deferred. ScheduledOn is the
// client wall clock in the GMT offset; ServerTime is the same instant in the
// server's location and is the only value that drives timers.
type ScheduledBatch struct {
	Batch

	GMT         string    `json:"gmt"`
	ScheduledOn time.Time `json:"scheduled_on"`
	ServerTime  time.Time `json:"server_time"`
}
