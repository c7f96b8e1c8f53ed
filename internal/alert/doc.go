// Package alert forwards task failures to the bot's log chat.
//
// It subscribes to task.failed events on the event bus, logs each one and,
// when enabled, sends a short message through a token-bucket limiter so a
// task that fails in a tight loop cannot flood the chat. Alerts dropped by
// the limiter are counted and reported with the next alert that goes out.
package alert
