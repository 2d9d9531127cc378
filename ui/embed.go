//go:build ui_embed

package ui

import (
	"embed"
	"io/fs"
)

// Build with: go build -tags ui_embed .
// Requires the front-end build output in ui/dist.

//go:embed all:dist
var distFS embed.FS

func embedded() (fs.FS, bool) {
	fsys, err := fs.Sub(distFS, "dist")
	if err != nil {
		return nil, false
	}
	return fsys, true
}
