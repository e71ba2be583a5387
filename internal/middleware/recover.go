// Package middleware holds the gin middleware shared by the API.
package middleware

import (
	"net/http"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/jobs"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
)

// Recoverer turns a handler panic into a logged 500 with a JSON body.
func Recoverer(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered", "error", rec, "method", c.Request.Method, "path", c.Request.URL.Path, "requestId", requestid.Get(c))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
			}
		}()
		c.Next()
	}
}

// Correlate copies the request id into the request context so job and audit
// records written while serving it carry the id.
func Correlate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := requestid.Get(c); id != "" {
			c.Request = c.Request.WithContext(jobs.WithRequest(c.Request.Context(), id))
		}
		c.Next()
	}
}
