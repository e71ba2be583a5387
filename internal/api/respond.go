package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
)

const actorHeader = "X-Actor"

var errBadID = errors.New("invalid id")

// statusFor maps an error class to the HTTP status the API answers with.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindConfiguration:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindOperationDisabled:
		return http.StatusForbidden
	case apperr.KindCrypto:
		return http.StatusUnprocessableEntity
	case apperr.KindProvider, apperr.KindTransport:
		return http.StatusBadGateway
	}
	if errors.Is(err, errBadID) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.app.Logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": err.Error()})
}

func actor(c *gin.Context) string {
	if a := c.GetHeader(actorHeader); a != "" {
		return a
	}
	return "api"
}

func idParam(c *gin.Context, name string) (uint, error) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		return 0, errBadID
	}
	return uint(n), nil
}

// queryUint reads an optional positive integer; absent or malformed reads as 0.
func queryUint(c *gin.Context, name string) uint {
	n, err := strconv.ParseUint(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return uint(n)
}

func queryInt(c *gin.Context, name string, def int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return n
}

func scopeQuery(c *gin.Context) models.Scope {
	return models.Scope{CompanyID: queryUint(c, "company"), ProjectID: queryUint(c, "project")}
}
