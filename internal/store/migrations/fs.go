// Package migrations embeds the archive schema migration files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
