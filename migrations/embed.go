// Package migrations embeds the goose SQL migrations applied on server start.
package migrations

import "embed"

// FS holds all *.sql migrations.
//
//go:embed *.sql
var FS embed.FS
