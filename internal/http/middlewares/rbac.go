package middlewares

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RequireOwner lets a request through only when the :param user id matches
// the authenticated user. Mount it after RequireAuth.
func (m *AuthMiddleware) RequireOwner(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := UserIDFromContext(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Missing identity context")
			return
		}

		target, err := strconv.ParseInt(c.Param(param), 10, 64)
		if err != nil || target != actor {
			abortJSON(c, http.StatusForbidden, "forbidden", "Not allowed to access another user's data")
			return
		}
		c.Next()
	}
}

// IsOwner reports whether the caller may act for userID. Requests that went
// through no auth middleware carry no identity and are allowed.
func IsOwner(c *gin.Context, userID int64) bool {
	actor, ok := UserIDFromContext(c)
	return !ok || actor == userID
}
