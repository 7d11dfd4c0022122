package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// the web client only ever sends these
var (
	corsMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ",")
	corsHeaders = strings.Join([]string{"Authorization", "Content-Type", "If-None-Match", "X-Request-Id"}, ",")
	corsExposed = strings.Join([]string{"ETag", "Retry-After", "X-Request-Id"}, ",")
)

type originPolicy struct {
	anyOrigin bool
	origins   map[string]bool
}

func newOriginPolicy(allowed []string) originPolicy {
	p := originPolicy{origins: make(map[string]bool, len(allowed))}
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[o] = true
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	return p.anyOrigin || p.origins[origin]
}

// CORSMiddleware echoes allowed origins back and answers preflights itself.
// A "*" entry allows every origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	policy := newOriginPolicy(allowedOrigins)

	return func(ctx *gin.Context) {
		origin := ctx.GetHeader("Origin")
		if origin != "" && policy.allows(origin) {
			h := ctx.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Expose-Headers", corsExposed)
			h.Add("Vary", "Origin")
		}

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	}
}
