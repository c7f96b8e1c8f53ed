// Package reminder implements personal reminders on top of the task scheduler.
//
// Each reminder is one instance of the non-unique reminder.deliver task,
// scheduled at the reminder time and repeating every retry interval until a
// delivery succeeds, a permanent transport error occurs, or the retry budget
// runs out. The scheduler keeps nothing across restarts; Load re-registers
// every stored reminder.
package reminder
