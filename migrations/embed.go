// Package migrations embeds the SQLite schema migrations.
package migrations

import "embed"

// Files holds the numbered *.sql migrations applied in version order.
//
//go:embed *.sql
var Files embed.FS
