// Package store defines the read-side contracts for the engine's fact store:
// the FactStore interface, its row types, sentinel errors, and the static
// schema capability descriptor. Implementations live in other packages; this
// package must not import database drivers or concrete clients.
package store
