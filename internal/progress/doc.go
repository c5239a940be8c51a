// Package progress carries the pipeline's analytics events. Stages emit through
// the Emitter interface; the Hub batches events on a background goroutine and
// fans them out to sinks such as the zap log, Prometheus collectors and the
// Pub/Sub publisher. Emitting never blocks or fails a stage.
package progress
