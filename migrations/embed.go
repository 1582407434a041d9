// Package migrations embeds the schema so binaries can migrate without
// shipping the SQL files separately.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
