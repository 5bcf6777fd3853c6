// Package sinks implements concrete transition consumers: the in-memory
// activity feed, Prometheus collectors, and structured logging. Each sink
// satisfies the progress.Sink interface and is safe for repeated Consume/Close cycles.
package sinks
