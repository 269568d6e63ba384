// Package migrations embeds the Postgres schema used by the relational
// storage backend and drives golang-migrate against it.
package migrations

import "embed"

//go:embed sql/*.sql
var sqlMigrations embed.FS
