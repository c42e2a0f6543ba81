// Package templates embeds the files written into a new data directory.
package templates

import "embed"

//go:embed config.yaml dashboard.md roster.txt
var FS embed.FS
