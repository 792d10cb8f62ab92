// Package migrations embeds the goose migrations for every SQL store.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
