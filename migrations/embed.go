// Package migrations embeds the SQL migration files into the binary so
// Lumen can create its schema without the .sql files on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory at its root.
//
//go:embed *.sql
var FS embed.FS
