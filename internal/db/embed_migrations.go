package db

import "embed"

// MigrationFS embeds the SQL migrations for the sessions and client_storage tables.
// Applied by cmd/migrate and, when MIGRATE_ON_START is set, by cmd/server.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
