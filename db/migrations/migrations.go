// Package migrations embeds the dispatch schema so the binaries can migrate without a source checkout.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
