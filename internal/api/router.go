package api

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/app"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/middleware"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/version"
)

// Router builds the HTTP surface of the control plane.
func Router(a *app.App) http.Handler {
	if a.Config.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		requestid.New(),
		ginzap.Ginzap(logging.Zap(a.Logger), time.RFC3339, true),
		middleware.Recoverer(a.Logger),
		middleware.Correlate(),
	)

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/api/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": version.Name, "version": version.Version})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{app: a}
	v1 := r.Group("/api/v1")
	registerAccounts(v1, h)
	registerServers(v1, h)
	registerSnapshots(v1, h)
	v1.GET("/reports/:kind", h.listReports)
	return r
}

type handlers struct {
	app *app.App
}

// listReports lists archived sweep reports of one kind (refresh-inventory or
// snapshot-scheduler).
func (h *handlers) listReports(c *gin.Context) {
	if h.app.Archive == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "keys": []string{}})
		return
	}
	keys, err := h.app.Archive.List(c.Request.Context(), c.Param("kind"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "keys": keys})
}
