// Package store defines the persistence contracts of the keyword pipeline.
// Implementations live in storage/postgres and storage/memory; this package
// must not import database drivers or concrete clients.
package store
