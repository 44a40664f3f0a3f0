package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/routilux/routilux-go/internal/breakpoint"
	"github.com/routilux/routilux-go/internal/engine"
	"github.com/routilux/routilux-go/internal/httpapi/response"
)

type BreakpointHandler struct {
	rt *engine.Runtime
}

func NewBreakpointHandler(rt *engine.Runtime) *BreakpointHandler {
	return &BreakpointHandler{rt: rt}
}

type createBreakpointRequest struct {
	Kind      string            `json:"kind" binding:"required"`
	Target    breakpoint.Target `json:"target"`
	Condition string            `json:"condition"`
	Enabled   *bool             `json:"enabled"`
}

func breakpointInfo(bp *breakpoint.Breakpoint) gin.H {
	return gin.H{
		"id":         bp.ID,
		"job_id":     bp.JobID,
		"kind":       bp.Kind,
		"target":     bp.Target,
		"condition":  bp.Condition,
		"enabled":    bp.Enabled(),
		"hit_count":  bp.HitCount(),
	}
}

// CreateBreakpoint implements createBreakpoint(job_id, spec). Breakpoints
// default to enabled, matching the teacher's convention of treating an
// absent boolean flag in a create request as "on" rather than "off".
func (h *BreakpointHandler) CreateBreakpoint(c *gin.Context) {
	var req createBreakpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "schema_error", err)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	bp, err := h.rt.Breakpoints.Create(breakpoint.Spec{
		JobID:     c.Param("job_id"),
		Kind:      breakpoint.Kind(req.Kind),
		Target:    req.Target,
		Condition: req.Condition,
		Enabled:   enabled,
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, breakpointInfo(bp))
}

// ListBreakpoints implements listBreakpoints(job_id).
func (h *BreakpointHandler) ListBreakpoints(c *gin.Context) {
	bps := h.rt.Breakpoints.ListForJob(c.Param("job_id"))
	out := make([]gin.H, 0, len(bps))
	for _, bp := range bps {
		out = append(out, breakpointInfo(bp))
	}
	response.RespondOK(c, gin.H{"breakpoints": out})
}

type setBreakpointEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetBreakpointEnabled implements setBreakpointEnabled(id, enabled).
func (h *BreakpointHandler) SetBreakpointEnabled(c *gin.Context) {
	var req setBreakpointEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "schema_error", err)
		return
	}
	bp, err := h.rt.Breakpoints.Get(c.Param("breakpoint_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	bp.SetEnabled(req.Enabled)
	response.RespondOK(c, breakpointInfo(bp))
}

// DeleteBreakpoint implements deleteBreakpoint(id).
func (h *BreakpointHandler) DeleteBreakpoint(c *gin.Context) {
	if err := h.rt.Breakpoints.Delete(c.Param("breakpoint_id")); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
