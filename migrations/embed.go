// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

// Files holds every *.up.sql and *.down.sql migration
//
//go:embed *.sql
var Files embed.FS
