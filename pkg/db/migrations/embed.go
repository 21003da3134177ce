// Package migrations embeds the goose SQL migrations for every supported dialect.
package migrations

import "embed"

// Files holds sqlite/*.sql and postgres/*.sql, applied in filename order.
//
//go:embed sqlite/*.sql postgres/*.sql
var Files embed.FS
