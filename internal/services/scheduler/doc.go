// Package scheduler runs named background jobs on cron or fixed-interval
// schedules. Jobs are executed by a bounded worker pool; a job whose
// previous run is still in flight is skipped by default, so slow cycles
// never stack up.
package scheduler
