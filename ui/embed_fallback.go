//go:build !ui_embed

package ui

import "io/fs"

// embedded reports no bundled front-end; Handler then serves STATIC_DIR or
// redirects to the API docs.
func embedded() (fs.FS, bool) {
	return nil, false
}
