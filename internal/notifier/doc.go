// Package notifier delivers emergency reports to operators.
//
// A Service fans a report out to every configured Channel (GitHub issue,
// Telegram message, structured log line) and reports success if at least one
// channel delivered it. Reports are never retried. A token bucket caps how many
// episodes can be announced per window so a flapping host cannot flood the
// channels, and each episode is delivered at most once.
package notifier
