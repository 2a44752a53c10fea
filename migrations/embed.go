// Package migrations embeds the numbered SQL files applied by db.Migrator.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
