// Package migrations embeds the Postgres schema for the CCE store.
// Migrations are embedded so they work regardless of working directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem (e.g. 001_cce.sql).
//
//go:embed *.sql
var FS embed.FS
