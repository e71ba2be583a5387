package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/inventory"
)

func registerServers(r *gin.RouterGroup, h *handlers) {
	r.GET("/servers", h.listServers)
	r.GET("/servers/:id/related", h.relatedAssets)
	r.GET("/servers/:id/snapshots", h.serverSnapshots)
}

type serverList struct {
	Items    []inventory.ServerView `json:"items"`
	Capacity inventory.Capacity     `json:"capacity"`
}

func (h *handlers) listServers(c *gin.Context) {
	views, err := h.app.Inventory.ListServers(c.Request.Context(), scopeQuery(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if views == nil {
		views = []inventory.ServerView{}
	}
	c.JSON(http.StatusOK, serverList{Items: views, Capacity: inventory.SummarizeCapacity(views)})
}

func (h *handlers) relatedAssets(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	srv, err := h.app.Inventory.GetServer(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.app.Relations.Resolve(c.Request.Context(), srv)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) serverSnapshots(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	srv, err := h.app.Inventory.GetServer(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	items, err := h.app.Inventory.ServerSnapshots(c.Request.Context(), srv)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}
