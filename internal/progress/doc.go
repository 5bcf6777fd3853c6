// Package progress polls the engine's progress cache into immutable per-track
// snapshots and turns the differences between consecutive snapshots into
// transition events. Events are batched by a non-blocking Hub and fanned out
// to pluggable sinks such as the activity feed or Prometheus.
package progress
