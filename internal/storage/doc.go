// Package storage persists daily schedule tables (keyed by calendar date,
// last-write-wins), the subscriber set, and a command-usage log.
package storage
