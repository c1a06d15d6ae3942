// Package migrations embeds the goose SQL migrations for each dialect
package migrations

import "embed"

// SQLite holds the migrations under sqlite/
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// Postgres holds the migrations under postgres/
//
//go:embed postgres/*.sql
var Postgres embed.FS
