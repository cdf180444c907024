// Package web embeds the chat page (dist/) and serves it as a single-page
// application.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// reserved prefixes belong to the API and never fall back to index.html.
var reserved = []string{"/api/", "/ws/"}

type spa struct {
	files fs.FS
	fs    http.Handler
}

// SPAHandler serves the embedded chat page. Existing files are served as is;
// any other GET path gets index.html so client-side routes survive a reload.
func SPAHandler() http.Handler {
	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return &spa{files: sub, fs: http.FileServer(http.FS(sub))}
}

func (s *spa) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	for _, prefix := range reserved {
		if strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
	}

	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" || !s.exists(name) {
		// The page itself must not be cached, or a redeploy keeps serving old JS.
		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
	}
	s.fs.ServeHTTP(w, r)
}

func (s *spa) exists(name string) bool {
	info, err := fs.Stat(s.files, name)
	return err == nil && !info.IsDir()
}
