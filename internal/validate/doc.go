// Package validate holds the RPC input checks the transport layer runs
// before dispatching to the coordinator's domain packages.
package validate
