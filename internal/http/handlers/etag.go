package handlers

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RespondJSONWithETag lets pollers of an unchanged list get a bodyless 304.
// The tag is a digest of the encoded body, so it changes whenever a row
// would.
func RespondJSONWithETag(ctx *gin.Context, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		ctx.JSON(status, payload)
		return
	}

	tag := bodyETag(body)
	ctx.Header("ETag", tag)
	ctx.Header("Cache-Control", "private, no-cache")

	if notModified(ctx.Request.Header.Values("If-None-Match"), tag) {
		ctx.Status(http.StatusNotModified)
		return
	}
	ctx.Data(status, "application/json; charset=utf-8", body)
}

func bodyETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + base64.RawURLEncoding.EncodeToString(sum[:12]) + `"`
}

// notModified applies the weak comparison If-None-Match requires.
func notModified(headers []string, tag string) bool {
	for _, h := range headers {
		for _, candidate := range strings.Split(h, ",") {
			candidate = strings.TrimSpace(candidate)
			if candidate == "*" || strings.TrimPrefix(candidate, "W/") == tag {
				return true
			}
		}
	}
	return false
}
