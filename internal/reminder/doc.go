// Package reminder schedules one-shot SMS reminders for calendar events.
//
// A reminder fires LeadTime before its event. The Scheduler keeps the whole
// reminder set in memory, mirrors it to a storage.Store under a single key
// after every mutation, and wakes on a tick schedule (every minute by default)
// to dispatch due reminders through a Notifier. Failed dispatches are retried
// on every tick until the retention sweep drops the reminder, Retention after
// its event.
package reminder
