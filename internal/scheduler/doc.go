// Package scheduler triggers the reminder tick and the retention sweep on
// cron or interval schedules.
//
// Each named job runs at most once at a time: a trigger that fires while the
// previous run is still in flight is skipped and logged.
package scheduler
