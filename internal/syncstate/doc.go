// Package syncstate holds the dashboard's domain model and the pure functions
// that derive it: the status resolver that turns durable facts plus an optional
// in-flight progress entry into one lifecycle state, and the fleet-level stats
// rollup. Nothing in this package performs I/O.
package syncstate
