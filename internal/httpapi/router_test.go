package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/routilux/routilux-go/internal/config"
	"github.com/routilux/routilux-go/internal/engine"
	"github.com/routilux/routilux-go/internal/flow"
	"github.com/routilux/routilux-go/internal/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRouter(t *testing.T) (*gin.Engine, *engine.Runtime) {
	t.Helper()
	rt := engine.New(config.Default(), logger.Nop())
	rt.Factory.Register("echo", func(id string) (*flow.Routine, error) {
		r := flow.NewRoutine(id, "echo")
		r.AddSlot("in", 0)
		r.AddEvent("out", nil)
		r.SetActivationPolicy(flow.Immediate())
		r.SetLogic(func(lc *flow.LogicContext, data map[string][]any) error {
			for _, item := range data["in"] {
				if err := lc.Emit("out", item.(map[string]any)); err != nil {
					return err
				}
			}
			return nil
		})
		return r, nil
	})
	router := NewRouter(RouterConfig{Runtime: rt, Log: logger.Nop()})
	return router, rt
}

func TestHealthz(t *testing.T) {
	router, _ := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

const flowDoc = `{
  "version": 1,
  "flow_id": "f1",
  "name": "demo",
  "routines": {
    "a": {"class": "echo"},
    "b": {"class": "echo"}
  },
  "connections": [
    {"from": "a.out", "to": "b.in"}
  ],
  "execution": {"strategy": "shared_pool"}
}`

func TestRegisterFlowAndSubmitJob(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/flows", bytes.NewBufferString(flowDoc))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register flow: status=%d body=%s", rr.Code, rr.Body.String())
	}

	createWorkerBody := `{"flow_id": "f1"}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/workers", bytes.NewBufferString(createWorkerBody))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create worker: status=%d body=%s", rr.Code, rr.Body.String())
	}
	var worker struct {
		WorkerID string `json:"worker_id"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&worker); err != nil {
		t.Fatalf("decode worker: %v", err)
	}

	submitBody := `{"flow_id": "f1", "routine_id": "a", "slot_name": "in", "worker_id": "` + worker.WorkerID + `", "data": {"x": 1}}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(submitBody))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit job: status=%d body=%s", rr.Code, rr.Body.String())
	}
	var job struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.JobID == "" {
		t.Fatalf("expected a job id")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.JobID+"/wait?timeout_ms=2000", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("wait for job: status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetJobNotFound(t *testing.T) {
	router, _ := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/does-not-exist", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateAndDeleteBreakpoint(t *testing.T) {
	router, rt := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/flows", bytes.NewBufferString(flowDoc))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register flow: status=%d body=%s", rr.Code, rr.Body.String())
	}

	jc := rt.Breakpoints // sanity that Breakpoints is reachable via rt
	_ = jc

	bpBody := `{"kind": "routine", "target": {"RoutineID": "a"}}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/breakpoints", bytes.NewBufferString(bpBody))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create breakpoint: status=%d body=%s", rr.Code, rr.Body.String())
	}
	var bp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&bp); err != nil {
		t.Fatalf("decode breakpoint: %v", err)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/breakpoints/"+bp.ID, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete breakpoint: status=%d body=%s", rr.Code, rr.Body.String())
	}
}
