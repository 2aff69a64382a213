// Package postgres embeds the PostgreSQL schema migrations.
package postgres

import "embed"

// Files holds the numbered *.up.sql migrations applied in version order.
//
//go:embed *.up.sql
var Files embed.FS
