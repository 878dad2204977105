// Package schedule plays catalog playlists on cron schedules.
//
// Cron functions parse and validate cron expressions and compute upcoming run times.
// RunAt executes a function asynchronously at a specified time, and the
// Scheduler uses both to fire every stored playlist schedule on time.
package schedule
