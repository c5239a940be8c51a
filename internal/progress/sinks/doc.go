// Package sinks implements analytics consumers: structured logging, Prometheus
// collectors and a message publisher. Each sink satisfies progress.Sink.
package sinks
