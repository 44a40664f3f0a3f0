package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/routilux/routilux-go/internal/engine"
	"github.com/routilux/routilux-go/internal/httpapi/response"
	"github.com/routilux/routilux-go/internal/worker"
)

type WorkerHandler struct {
	rt *engine.Runtime
}

func NewWorkerHandler(rt *engine.Runtime) *WorkerHandler {
	return &WorkerHandler{rt: rt}
}

type createWorkerRequest struct {
	FlowID   string `json:"flow_id" binding:"required"`
	WorkerID string `json:"worker_id"`
}

func workerInfo(w *worker.Worker) gin.H {
	counters := w.Counters()
	return gin.H{
		"worker_id": w.ID,
		"flow_id":   w.FlowID,
		"status":    string(w.Status()),
		"processed": counters.Processed,
		"failed":    counters.Failed,
	}
}

// CreateWorker implements createWorker(flow_id, worker_id?).
func (h *WorkerHandler) CreateWorker(c *gin.Context) {
	var req createWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "job_submission_failed", err)
		return
	}
	w, err := h.rt.Exec(req.FlowID, req.WorkerID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, workerInfo(w))
}

// ListWorkers implements listWorkers(filters).
func (h *WorkerHandler) ListWorkers(c *gin.Context) {
	f := engine.WorkerFilters{
		FlowID: c.Query("flow_id"),
		Status: worker.Status(c.Query("status")),
	}
	workers := h.rt.ListWorkers(f)
	out := make([]gin.H, 0, len(workers))
	for _, w := range workers {
		out = append(out, workerInfo(w))
	}
	response.RespondOK(c, gin.H{"workers": out})
}

// GetWorker implements getWorker(id).
func (h *WorkerHandler) GetWorker(c *gin.Context) {
	w, err := h.rt.GetWorker(c.Param("worker_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, workerInfo(w))
}

// PauseWorker implements pauseWorker(id).
func (h *WorkerHandler) PauseWorker(c *gin.Context) {
	if err := h.rt.PauseWorker(c.Param("worker_id")); err != nil {
		response.RespondErr(c, err)
		return
	}
	w, _ := h.rt.GetWorker(c.Param("worker_id"))
	response.RespondOK(c, workerInfo(w))
}

// ResumeWorker implements resumeWorker(id).
func (h *WorkerHandler) ResumeWorker(c *gin.Context) {
	if err := h.rt.ResumeWorker(c.Param("worker_id")); err != nil {
		response.RespondErr(c, err)
		return
	}
	w, _ := h.rt.GetWorker(c.Param("worker_id"))
	response.RespondOK(c, workerInfo(w))
}

// StopWorker implements stopWorker(id).
func (h *WorkerHandler) StopWorker(c *gin.Context) {
	if err := h.rt.StopWorker(c.Param("worker_id")); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
