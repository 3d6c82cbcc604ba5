// Package db embeds the PostgreSQL schema and the demo seed data.
package db

import _ "embed"

var (
	// Schema creates every table, index and sequence. It is idempotent and is
	// applied on each start.
	//
	//go:embed migrations/001_schema.sql
	Schema string

	// SeedCatalog is the demo menu and coupon set loaded by cmd/seed-db.
	//
	//go:embed seed/catalog.json
	SeedCatalog []byte
)
