package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/wascheduler/internal/actorctx"
)

// SessionParser is satisfied by authsvc.Service.
type SessionParser interface {
	ParseSession(token string) (int64, error)
}

type AuthMiddleware struct {
	sessions SessionParser
}

func NewAuthMiddleware(sessions SessionParser) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions}
}

// RequireAuth accepts "Authorization: Bearer <sessionToken>" and stores the
// user id on both the gin and the request context.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if raw == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Missing session token")
			return
		}

		userID, err := m.sessions.ParseSession(raw)
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Invalid or expired session token")
			return
		}

		c.Set(CtxUserID, userID)
		c.Request = c.Request.WithContext(actorctx.WithUserID(c.Request.Context(), userID))

		c.Next()
	}
}

func UserIDFromContext(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
