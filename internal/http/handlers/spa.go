package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// SPAHandler serves the built web client. Unknown paths get index.html so
// client-side routes survive a reload; unknown API paths stay JSON 404s.
type SPAHandler struct {
	dir string
}

func NewSPAHandler(dir string) *SPAHandler {
	return &SPAHandler{dir: dir}
}

func (h *SPAHandler) NoRoute(ctx *gin.Context) {
	p := ctx.Request.URL.Path
	if strings.HasPrefix(p, "/api/") || p == "/api" {
		RespondNotFound(ctx, "Route not found")
		return
	}
	if ctx.Request.Method != http.MethodGet && ctx.Request.Method != http.MethodHead {
		RespondNotFound(ctx, "Route not found")
		return
	}

	// path.Clean on a rooted path cannot climb above the build dir
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel != "" {
		file := filepath.Join(h.dir, filepath.FromSlash(rel))
		if fi, err := os.Stat(file); err == nil && !fi.IsDir() {
			ctx.File(file)
			return
		}
	}

	index := filepath.Join(h.dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		RespondNotFound(ctx, "Route not found")
		return
	}
	ctx.Header("Cache-Control", "no-cache")
	ctx.File(index)
}
