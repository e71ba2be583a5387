package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/accounts"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
)

func registerAccounts(r *gin.RouterGroup, h *handlers) {
	r.GET("/accounts", h.listAccounts)
	r.POST("/accounts", h.createAccount)
	r.PUT("/accounts/:id", h.updateAccount)
	r.DELETE("/accounts/:id", h.deleteAccount)
	r.POST("/accounts/:id/test", h.testAccount)
	r.POST("/accounts/:id/sync", h.syncAccount)
	r.GET("/accounts/:id/assets", h.listAssets)
	r.GET("/accounts/:id/assets/summary", h.assetSummary)
}

func (h *handlers) listAccounts(c *gin.Context) {
	s := scopeQuery(c)
	items, err := h.app.Accounts.List(c.Request.Context(), accounts.Filter{
		CompanyID: s.CompanyID, ProjectID: s.ProjectID, Limit: queryInt(c, "limit", 0),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *handlers) createAccount(c *gin.Context) {
	var in accounts.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, apperr.Configuration("api.createAccount", "invalid body: %v", err))
		return
	}
	acct, err := h.app.Accounts.Create(c.Request.Context(), in, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

func (h *handlers) updateAccount(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var in accounts.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, apperr.Configuration("api.updateAccount", "invalid body: %v", err))
		return
	}
	acct, err := h.app.Accounts.Update(c.Request.Context(), id, in, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h *handlers) deleteAccount(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.app.Accounts.Delete(c.Request.Context(), id, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) testAccount(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.app.Accounts.Test(c.Request.Context(), id, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// syncAccount answers 200 with the result even when the sync failed; the
// failure is in the body, as it is for sweeps.
func (h *handlers) syncAccount(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.app.Inventory.SyncAccount(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) listAssets(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	t := models.AssetType(c.Query("type"))
	items, err := h.app.Inventory.ListAssets(c.Request.Context(), id, t)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *handlers) assetSummary(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	sum, err := h.app.Inventory.SummarizeAssets(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
