// Package migrations embeds the console's SQLite schema into the binary.
package migrations

import "embed"

// FS holds every migration file at its root; pass "." as the directory.
//
//go:embed *.sql
var FS embed.FS
