package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"meshbridge/internal/config"
	"meshbridge/internal/constants"
	"meshbridge/internal/filter"
	"meshbridge/internal/link"
	"meshbridge/internal/router"
	"meshbridge/internal/storage"
	"meshbridge/internal/tracker"
	"meshbridge/pkg/errors"
)

// Handlers serves the management API. Store is nil when persistence is
// disabled; the history endpoint reports unavailable in that case.
type Handlers struct {
	Tracker  *tracker.Tracker
	Filter   *filter.Engine
	Router   *router.Router
	Registry *link.Registry
	Store    *storage.Store
}

type sendRequest struct {
	Target  string `json:"target"`
	Text    string `json:"text" binding:"required"`
	Channel int    `json:"channel"`
}

type nodeRequest struct {
	Node string `json:"node" binding:"required"`
}

func (h *Handlers) RecentMessages(c *gin.Context) {
	limit := parseLimit(c)
	c.JSON(http.StatusOK, gin.H{
		"messages": h.Tracker.RecentEntries(limit),
	})
}

func (h *Handlers) MessageHistory(c *gin.Context) {
	if h.Store == nil {
		abortWithError(c, errors.ErrServiceUnavailable.WithDetail("reason", "persistence is disabled"))
		return
	}

	limit := parseLimit(c)
	query := c.Query("q")

	var (
		records []storage.MessageRecord
		err     error
	)
	if query != "" {
		records, err = h.Store.SearchMessages(c.Request.Context(), query, limit)
	} else {
		records, err = h.Store.RecentMessages(c.Request.Context(), limit)
	}
	if err != nil {
		abortWithError(c, errors.Wrap(err, errors.ErrInternal))
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": records})
}

func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tracker": h.Tracker.Stats(),
		"filter":  h.Filter.Stats(),
		"links":   h.Router.LinkStatsSnapshot(),
	})
}

func (h *Handlers) Links(c *gin.Context) {
	stats := h.Router.LinkStatsSnapshot()

	type linkInfo struct {
		Name  string           `json:"name"`
		Stats router.LinkStats `json:"stats"`
	}

	out := make([]linkInfo, 0, h.Registry.Count())
	for _, name := range h.Registry.Names() {
		out = append(out, linkInfo{Name: name, Stats: stats[name]})
	}

	c.JSON(http.StatusOK, gin.H{"links": out})
}

func (h *Handlers) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.ErrValidation.WithCause(err))
		return
	}

	if err := h.Router.Send(c.Request.Context(), req.Target, req.Text, req.Channel); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

func (h *Handlers) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.Filter.Rules()})
}

func (h *Handlers) AddRule(c *gin.Context) {
	var rc config.RuleConfig
	if err := c.ShouldBindJSON(&rc); err != nil {
		abortWithError(c, errors.ErrValidation.WithCause(err))
		return
	}

	if err := h.Filter.AddRule(rc); err != nil {
		abortWithError(c, errors.ErrValidation.WithCause(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "created"})
}

func (h *Handlers) RemoveRule(c *gin.Context) {
	name := c.Param("name")
	if !h.Filter.RemoveRule(name) {
		abortWithError(c, errors.ErrNotFound.WithDetail("rule", name))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handlers) Blocklist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nodes": h.Filter.BlockedSenders()})
}

func (h *Handlers) AddBlocked(c *gin.Context) {
	var req nodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.ErrValidation.WithCause(err))
		return
	}
	h.Filter.AddBlockedSender(req.Node)
	c.JSON(http.StatusCreated, gin.H{"status": "created"})
}

func (h *Handlers) RemoveBlocked(c *gin.Context) {
	node := c.Param("node")
	if !h.Filter.RemoveBlockedSender(node) {
		abortWithError(c, errors.ErrNotFound.WithDetail("node", node))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handlers) Allowlist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nodes": h.Filter.AllowedSenders()})
}

func (h *Handlers) AddAllowed(c *gin.Context) {
	var req nodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.ErrValidation.WithCause(err))
		return
	}
	h.Filter.AddAllowedSender(req.Node)
	c.JSON(http.StatusCreated, gin.H{"status": "created"})
}

func (h *Handlers) RemoveAllowed(c *gin.Context) {
	node := c.Param("node")
	if !h.Filter.RemoveAllowedSender(node) {
		abortWithError(c, errors.ErrNotFound.WithDetail("node", node))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func parseLimit(c *gin.Context) int {
	limit := constants.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > constants.MaxLimit {
		limit = constants.MaxLimit
	}
	return limit
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}
