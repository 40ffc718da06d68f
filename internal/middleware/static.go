package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

// StaticFileServer serves generated receipt assets (payment-link QR
// images) from dir. Unknown paths get a 404 rather than a directory
// listing.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeFile(w, r, path)
	})
}
