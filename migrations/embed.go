// Package migrations embeds the PostgreSQL schema so the binary can migrate
// without a checkout of the repository.
package migrations

import "embed"

// FS holds every numbered .sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
