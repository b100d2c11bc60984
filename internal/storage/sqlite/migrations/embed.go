package migrations

import "embed"

// FS contains embedded SQLite migrations for the actor storage engine.
//
//go:embed *.sql
var FS embed.FS
