// Package store provides SQL-backed implementations of the core store port:
// SQLiteStore (modernc.org/sqlite through database/sql) and GormStore
// (gorm with the postgres driver). Open selects one from configuration.
package store
