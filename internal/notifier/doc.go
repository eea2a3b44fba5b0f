// Package notifier delivers reminder messages.
//
// # Drivers
//
// A driver turns one reminder into one outbound message:
//
//   - twilio: SMS or WhatsApp through the Twilio REST API
//   - relay: POST to a remote /api/reminder endpoint that sends the SMS
//   - log: writes the message to the log only (development)
//
// A Telegram chat can mirror every delivered reminder for operators. Mirror
// failures never fail the reminder.
//
// # Pipeline
//
// Service wraps the configured driver with a token-bucket rate limit and a
// per-send timeout. Both can be changed at runtime with Apply.
package notifier
