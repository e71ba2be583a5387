package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/snapshot"
)

func registerSnapshots(r *gin.RouterGroup, h *handlers) {
	r.GET("/servers/:id/policy", h.getPolicy)
	r.PUT("/servers/:id/policy", h.savePolicy)
	r.POST("/servers/:id/snapshots", h.runSnapshot)
	r.POST("/servers/:id/retention", h.applyRetention)
	r.GET("/servers/:id/runs", h.serverRuns)
	r.GET("/projects/:company/:project/runs", h.projectRuns)
	r.GET("/projects/:company/:project/policies", h.projectPolicies)
	r.POST("/snapshots/due", h.runDue)
}

func (h *handlers) getPolicy(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	p, err := h.app.Snapshots.Policy(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) savePolicy(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var in snapshot.PolicyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, apperr.Configuration("api.savePolicy", "invalid body: %v", err))
		return
	}
	p, err := h.app.Snapshots.SavePolicy(c.Request.Context(), id, in, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// runSnapshot answers 200 for completed runs whether they succeeded or not;
// only unresolvable servers are errors.
func (h *handlers) runSnapshot(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.app.Snapshots.RunNow(c.Request.Context(), id, models.RunManual, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) applyRetention(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.app.Snapshots.ApplyRetention(c.Request.Context(), id, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) serverRuns(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	runs, err := h.app.Snapshots.ServerRuns(c.Request.Context(), id, queryInt(c, "limit", 50))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func projectScope(c *gin.Context) (models.Scope, error) {
	company, err := idParam(c, "company")
	if err != nil {
		return models.Scope{}, err
	}
	project, err := idParam(c, "project")
	if err != nil {
		return models.Scope{}, err
	}
	return models.Scope{CompanyID: company, ProjectID: project}, nil
}

func (h *handlers) projectRuns(c *gin.Context) {
	scope, err := projectScope(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	runs, err := h.app.Snapshots.ProjectRuns(c.Request.Context(), scope, queryInt(c, "limit", 100))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *handlers) projectPolicies(c *gin.Context) {
	scope, err := projectScope(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	items, err := h.app.Snapshots.Overview(c.Request.Context(), scope)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *handlers) runDue(c *gin.Context) {
	rep, err := h.app.Snapshots.RunDue(c.Request.Context(), queryInt(c, "limit", 20))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
