package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS allows the listed origins, or every origin when the list is empty
// or contains "*". Preflight requests end here with 204. It never calls
// c.Next, so it can sit inside a Manager.
func CORS(origins ...string) gin.HandlerFunc {
	all := len(origins) == 0 || slices.Contains(origins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if !all && !slices.Contains(origins, origin) {
				if c.Request.Method == http.MethodOptions {
					c.AbortWithStatus(http.StatusForbidden)
				}
				return
			}
			h := c.Writer.Header()
			if all {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
		}
	}
}

// AllowedOrigin is the websocket upgrader's CheckOrigin counterpart of CORS.
func AllowedOrigin(origins ...string) func(*http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return o == "" || slices.ContainsFunc(origins, func(s string) bool { return strings.EqualFold(s, o) })
	}
}
