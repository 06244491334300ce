// Package registry tracks which workers are part of the cluster, their
// liveness state machine, and dense rank assignment. See registry.go for
// the sweep and transition rules.
package registry
