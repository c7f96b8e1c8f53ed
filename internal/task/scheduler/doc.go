// Package scheduler runs deferred and recurring background tasks.
//
// A Task is a named callback defined once. Scheduling a Task produces an Instance, which is
// driven by its own runner goroutine through Waiting, Firing and then Rescheduled, Retired or
// Cancelled. The Service keeps the registry of live instances, enforces per-task uniqueness at
// schedule time, and reports every callback failure both to the task's error handler and on the
// event bus (task.failed).
//
// Recurrence is drift free: the next target is the previous target plus the interval, never
// "now plus the interval". Cancellation is advisory: a waiting instance stops immediately, a
// firing one finishes its current run first.
package scheduler
