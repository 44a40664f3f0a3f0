package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/routilux/routilux-go/internal/engine"
	"github.com/routilux/routilux-go/internal/httpapi/response"
	"github.com/routilux/routilux-go/internal/jobctx"
)

type EventHandler struct {
	rt *engine.Runtime
}

func NewEventHandler(rt *engine.Runtime) *EventHandler {
	return &EventHandler{rt: rt}
}

const pollInterval = 250 * time.Millisecond

// StreamJobEvents implements streamJobEvents(job_id) over Server-Sent
// Events. A background goroutine polls the job's status and history for
// changes and republishes them onto rt.Events, so any other adapter
// process sharing the same bus (rt.Events backed by eventbus.Redis) also
// observes this job's stream; this goroutine then just forwards its own
// subscription out as SSE frames. Mirrors the teacher's hub.go fan-out
// shape: one subscribe, one forward loop, unsubscribe on client
// disconnect.
func (h *EventHandler) StreamJobEvents(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := h.rt.GetJob(jobID); err != nil {
		response.RespondErr(c, err)
		return
	}

	ctx := c.Request.Context()
	msgs, unsub, err := h.rt.Events.Subscribe(ctx, jobID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	defer unsub()

	go h.tailJob(ctx, jobID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w gin.ResponseWriter) bool {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return false
			}
			c.SSEvent(msg.Kind, msg.Payload)
			return true
		case <-time.After(15 * time.Second):
			c.SSEvent("heartbeat", gin.H{"job_id": jobID})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// tailJob polls a job's status and history at pollInterval, publishing a
// status_changed notice on every transition and a history_appended notice
// for every new ExecutionRecord, until the job reaches a terminal status
// or ctx is canceled (the client disconnected).
func (h *EventHandler) tailJob(ctx context.Context, jobID string) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastStatus jobctx.Status
	lastHist := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jc, err := h.rt.GetJob(jobID)
			if err != nil {
				return
			}
			status := jc.Status()
			if status != lastStatus {
				lastStatus = status
				h.rt.PublishJobEvent(ctx, jobID, "status_changed", gin.H{
					"job_id": jobID,
					"status": string(status),
				})
			}
			hist := jc.History()
			if len(hist) > lastHist {
				for _, rec := range hist[lastHist:] {
					h.rt.PublishJobEvent(ctx, jobID, "history_appended", rec)
				}
				lastHist = len(hist)
			}
			if status.Terminal() {
				return
			}
		}
	}
}
