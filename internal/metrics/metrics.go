// Package metrics exposes the observability hooks of the dispatch core.
package metrics

import "time"

// Collector receives counts from the scheduler, the scanners and the
// notification path.
type Collector interface {
	ObserveAssignment(outcome string)
	ObserveScanItem(scan, outcome string)
	ObserveScanDuration(scan string, d time.Duration)
	ObserveNotificationFailure(eventType string)
}

// Nop discards everything.
type Nop struct{}

var _ Collector = Nop{}

func (Nop) ObserveAssignment(string)                  {}
func (Nop) ObserveScanItem(string, string)            {}
func (Nop) ObserveScanDuration(string, time.Duration) {}
func (Nop) ObserveNotificationFailure(string)         {}
