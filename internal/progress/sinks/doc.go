// Package sinks implements progress consumers: console lines, a zap debug
// trace and Prometheus metrics.
package sinks
