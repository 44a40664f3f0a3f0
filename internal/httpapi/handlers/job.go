package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/routilux/routilux-go/internal/engine"
	"github.com/routilux/routilux-go/internal/httpapi/response"
	"github.com/routilux/routilux-go/internal/jobctx"
)

type JobHandler struct {
	rt *engine.Runtime
}

func NewJobHandler(rt *engine.Runtime) *JobHandler {
	return &JobHandler{rt: rt}
}

type submitJobRequest struct {
	FlowID             string         `json:"flow_id" binding:"required"`
	RoutineID          string         `json:"routine_id" binding:"required"`
	SlotName           string         `json:"slot_name" binding:"required"`
	Data               map[string]any `json:"data"`
	WorkerID           string         `json:"worker_id"`
	Metadata           map[string]any `json:"metadata"`
	IdempotencyKey     string         `json:"idempotency_key"`
	ExplicitCompletion bool           `json:"explicit_completion"`
	TimeoutMS          int64          `json:"timeout_ms"`
}

func jobInfo(jc *jobctx.JobContext) gin.H {
	return gin.H{
		"job_id":       jc.JobID,
		"worker_id":    jc.WorkerID,
		"flow_id":      jc.FlowID,
		"status":       string(jc.Status()),
		"error":        errString(jc.LastError()),
		"created_at":   jc.CreatedAt,
		"started_at":   jc.StartedAt,
		"completed_at": jc.CompletedAt,
		"metadata":     jc.Metadata(),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// SubmitJob implements submitJob(...). The Idempotency-Key header takes
// precedence over a body field, matching the teacher's header-first
// convention for idempotent write endpoints.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "job_submission_failed", err)
		return
	}
	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}
	jc, err := h.rt.Post(c.Request.Context(), req.FlowID, req.RoutineID, req.SlotName, req.Data, engine.PostOptions{
		WorkerID:           req.WorkerID,
		Metadata:           req.Metadata,
		IdempotencyKey:     key,
		ExplicitCompletion: req.ExplicitCompletion,
		Timeout:            time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, jobInfo(jc))
}

type executeRequest struct {
	FlowID    string         `json:"flow_id" binding:"required"`
	RoutineID string         `json:"routine_id" binding:"required"`
	SlotName  string         `json:"slot_name" binding:"required"`
	Data      map[string]any `json:"data"`
	Wait      bool           `json:"wait"`
	TimeoutMS int64          `json:"timeout_ms"`
}

// Execute implements execute(...), the one-shot convenience form.
func (h *JobHandler) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "job_submission_failed", err)
		return
	}
	jc, err := h.rt.Execute(c.Request.Context(), req.FlowID, req.RoutineID, req.SlotName, req.Data, req.Wait, time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, jobInfo(jc))
}

// ListJobs implements listJobs(filters).
func (h *JobHandler) ListJobs(c *gin.Context) {
	f := engine.JobFilters{
		FlowID:   c.Query("flow_id"),
		WorkerID: c.Query("worker_id"),
		Status:   jobctx.Status(c.Query("status")),
	}
	jobs := h.rt.ListJobs(f)
	out := make([]gin.H, 0, len(jobs))
	for _, jc := range jobs {
		out = append(out, jobInfo(jc))
	}
	response.RespondOK(c, gin.H{"jobs": out})
}

// GetJob implements getJob(id).
func (h *JobHandler) GetJob(c *gin.Context) {
	jc, err := h.rt.GetJob(c.Param("job_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, jobInfo(jc))
}

// CancelJob implements cancelJob(id).
func (h *JobHandler) CancelJob(c *gin.Context) {
	if err := h.rt.CancelJob(c.Param("job_id")); err != nil {
		response.RespondErr(c, err)
		return
	}
	jc, _ := h.rt.GetJob(c.Param("job_id"))
	response.RespondOK(c, jobInfo(jc))
}

// ResumeJob resumes a job paused by a breakpoint (not in the §6 verb list
// by that exact name, but required to close the loop on scenario 5: the
// control surface otherwise has no way to un-pause a job after deleting
// the breakpoint that caused it).
func (h *JobHandler) ResumeJob(c *gin.Context) {
	if err := h.rt.ResumeJob(c.Param("job_id")); err != nil {
		response.RespondErr(c, err)
		return
	}
	jc, _ := h.rt.GetJob(c.Param("job_id"))
	response.RespondOK(c, jobInfo(jc))
}

// WaitForJob implements waitForJob(id, timeout?).
func (h *JobHandler) WaitForJob(c *gin.Context) {
	timeout := 30 * time.Second
	if v := c.Query("timeout_ms"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}
	jc, err := h.rt.WaitForJob(c.Request.Context(), c.Param("job_id"), timeout)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, jobInfo(jc))
}

// GetJobOutput implements getJobOutput(job_id, incremental?): routed stdout
// chunks (consuming) or the full buffer (non-consuming).
func (h *JobHandler) GetJobOutput(c *gin.Context) {
	incremental := c.Query("incremental") == "true"
	out := h.rt.GetJobOutput(c.Param("job_id"), incremental)
	response.RespondOK(c, gin.H{"job_id": c.Param("job_id"), "incremental": incremental, "output": out})
}

// GetJobHistory implements getJobHistory(job_id, filters).
func (h *JobHandler) GetJobHistory(c *gin.Context) {
	hist, err := h.rt.GetJobHistory(c.Param("job_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if kind := c.Query("kind"); kind != "" {
		filtered := make([]jobctx.ExecutionRecord, 0, len(hist))
		for _, r := range hist {
			if string(r.Kind) == kind {
				filtered = append(filtered, r)
			}
		}
		hist = filtered
	}
	response.RespondOK(c, gin.H{"job_id": c.Param("job_id"), "history": hist})
}

// GetJobMetrics surfaces the per-job ExecutionMetrics rollup (the
// "Monitor/metrics surface" supplemented feature).
func (h *JobHandler) GetJobMetrics(c *gin.Context) {
	metrics, err := h.rt.GetJobMetrics(c.Param("job_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, metrics)
}
