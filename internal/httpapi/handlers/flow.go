// Package handlers implements the thin 1:1 mapping from spec.md §6's
// control surface onto gin handlers, grounded on the teacher's
// internal/http/handlers package shape (one small struct per resource
// holding only the collaborator it needs, response.RespondOK/RespondErr
// for every reply).
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/routilux/routilux-go/internal/engine"
	"github.com/routilux/routilux-go/internal/httpapi/response"
)

type FlowHandler struct {
	rt *engine.Runtime
}

func NewFlowHandler(rt *engine.Runtime) *FlowHandler {
	return &FlowHandler{rt: rt}
}

// RegisterFlow accepts a §6 JSON flow document in the request body and
// registers it, reconstructing routines through the runtime's Factory.
func (h *FlowHandler) RegisterFlow(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "job_submission_failed", err)
		return
	}
	f, err := h.rt.RegisterFlowDocument(body)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"flow_id": f.ID, "name": f.Name})
}

// ListFlows returns read-only summaries of every registered flow's shape
// (the "Flow/connection/routine info listing" feature supplemented from
// original_source/routilux/api/models/flow.py).
func (h *FlowHandler) ListFlows(c *gin.Context) {
	flows := h.rt.ListFlows()
	out := make([]gin.H, 0, len(flows))
	for _, f := range flows {
		ids := make([]string, 0, len(f.Routines()))
		for _, r := range f.Routines() {
			ids = append(ids, r.ID)
		}
		out = append(out, gin.H{
			"flow_id":     f.ID,
			"name":        f.Name,
			"strategy":    string(f.Strategy),
			"routine_ids": ids,
			"connections": len(f.Connections()),
		})
	}
	response.RespondOK(c, gin.H{"flows": out})
}

// GetFlow returns one flow's routine/connection shape plus, for each
// routine, its declared slots and events.
func (h *FlowHandler) GetFlow(c *gin.Context) {
	f, err := h.rt.LookupFlow(c.Param("flow_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	routines := make([]gin.H, 0, len(f.Routines()))
	for _, r := range f.Routines() {
		routines = append(routines, gin.H{
			"id":     r.ID,
			"kind":   r.Kind,
			"slots":  r.SlotNames(),
			"events": r.EventNames(),
			"config": r.ConfigSnapshot(),
		})
	}
	conns := make([]gin.H, 0, len(f.Connections()))
	for _, conn := range f.Connections() {
		conns = append(conns, gin.H{
			"id":             conn.ID,
			"source_routine": conn.SourceRoutine,
			"source_event":   conn.SourceEvent,
			"target_routine": conn.TargetRoutine,
			"target_slot":    conn.TargetSlot,
			"mapping":        conn.ParamMapping,
		})
	}
	response.RespondOK(c, gin.H{
		"flow_id":     f.ID,
		"name":        f.Name,
		"strategy":    string(f.Strategy),
		"routines":    routines,
		"connections": conns,
	})
}

// UnregisterFlow removes a flow by id, rejecting the request with
// worker_already_exists (per engine.Runtime.UnregisterFlow) when a live
// worker still references it.
func (h *FlowHandler) UnregisterFlow(c *gin.Context) {
	if err := h.rt.UnregisterFlow(c.Param("flow_id")); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RoutineMetrics surfaces the cumulative, cross-job execution stats the
// Monitor tracks for one routine id (the "Monitor/metrics surface"
// supplemented feature).
func (h *FlowHandler) RoutineMetrics(c *gin.Context) {
	stats, err := h.rt.GetRoutineMetrics(c.Param("routine_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"routine_id":      c.Param("routine_id"),
		"execution_count": stats.ExecutionCount,
		"error_count":     stats.ErrorCount,
		"total_duration":  stats.TotalDuration.String(),
		"avg_duration":    stats.AvgDuration().String(),
		"min_duration":    stats.MinDuration.String(),
		"max_duration":    stats.MaxDuration.String(),
		"last_execution":  stats.LastExecution,
	})
}
