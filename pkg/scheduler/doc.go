// Package scheduler ticks independent tracks (backup, integrity, DR
// test) at fixed daily/weekly/monthly cadences computed by pkg/schedule.
// A track never queues a second occurrence while the first is still
// running; it is simply skipped and logged.
package scheduler
