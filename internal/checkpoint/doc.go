// Package checkpoint persists training checkpoints asynchronously: writes
// are queued, written by a single goroutine, and indexed by step with
// keep-count retention. See format.go for the on-disk layout.
package checkpoint
