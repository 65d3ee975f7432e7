// Package migrations embeds the goose SQL migration set applied by
// internal/migrate on startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
