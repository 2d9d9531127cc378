// Package ui serves the single-page web front-end.
package ui

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/smazurov/camfeed/internal/logging"
)

// MissingBuildMessage is the body served when index.html is absent.
const MissingBuildMessage = "Front-end build not found. Run the front-end build (npm run build or yarn build) and point STATIC_DIR at its output.\n"

// Handler returns the front-end handler. A non-empty dir is served from
// disk; otherwise the embedded build is used, and without one requests
// are redirected to the API docs.
func Handler(dir string, logger logging.Logger) http.Handler {
	if dir != "" {
		if _, err := os.Stat(filepath.Join(dir, "index.html")); err != nil {
			logger.Warn("Front-end build missing", "dir", dir, "error", err)
		}
		return NewSPAHandler(os.DirFS(dir), logger)
	}
	if fsys, ok := embedded(); ok {
		return NewSPAHandler(fsys, logger)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs", http.StatusFound)
	})
}

// NewSPAHandler serves files from fsys and falls back to index.html for any
// path that is not a file, so client-side routes work on reload.
func NewSPAHandler(fsys fs.FS, logger logging.Logger) http.Handler {
	fileServer := http.FileServerFS(fsys)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name != "" && isFile(fsys, name) {
			fileServer.ServeHTTP(w, r)
			return
		}

		if !isFile(fsys, "index.html") {
			logger.Error("Front-end build not found", "path", r.URL.Path)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(MissingBuildMessage))
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		index, err := fs.ReadFile(fsys, "index.html")
		if err != nil {
			http.Error(w, "failed to read index.html", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(index)
	})
}

func isFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
