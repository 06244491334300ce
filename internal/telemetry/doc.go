// Package telemetry defines and registers the coordinator's prometheus
// metrics: worker counts, barrier outcomes, checkpoint throughput, and
// rate-limit rejections.
package telemetry
