// Package migrations embeds the SQLite schema for the single-node CCE store.
package migrations

import "embed"

// FS holds the SQLite migration files.
//
//go:embed *.sql
var FS embed.FS
