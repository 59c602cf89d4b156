// Package migrations embeds the settlement schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
