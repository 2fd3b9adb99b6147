package panel

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var content embed.FS

// assets returns dir when it names an existing directory, otherwise the
// embedded web/ tree.
func assets(dir string) fs.FS {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	sub, err := fs.Sub(content, "web")
	if err != nil {
		// web/ is compiled in; this cannot fail at runtime.
		panic("panel: embedded assets missing: " + err.Error())
	}
	return sub
}

// Handler serves the dashboard. A non-empty dir that exists on disk takes
// precedence over the embedded copy so the page can be edited live.
// Paths that match no asset are answered with index.html.
func Handler(dir string) http.Handler {
	files := assets(dir)
	server := http.FileServerFS(files)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := path.Clean(r.URL.Path)
		if name != "/" && name != "." {
			if _, err := fs.Stat(files, name[1:]); err == nil {
				server.ServeHTTP(w, r)
				return
			}
		}

		r2 := r.Clone(r.Context())
		r2.URL.Path = "/"
		server.ServeHTTP(w, r2)
	})
}
