package models

import "time"

const RosterDateLayout = "2006-01-02"

type DailyRoster struct {
	WorkerID      string    `json:"worker_id"`
	Date          string    `json:"date"`
	TotalBookings int       `json:"total_bookings"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RosterDate returns the roster key date for t, in UTC.
func RosterDate(t time.Time) string {
	return t.UTC().Format(RosterDateLayout)
}
