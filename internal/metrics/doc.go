// Package metrics provides Prometheus metrics for the voice pipeline.
package metrics
