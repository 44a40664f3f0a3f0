package sqlstore

import (
	"context"
	"testing"

	"github.com/routilux/routilux-go/internal/flow"
	"github.com/routilux/routilux-go/internal/jobctx"
	"github.com/routilux/routilux-go/internal/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("sqlite", "", logger.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func buildTestFlow(t *testing.T) *flow.Flow {
	t.Helper()
	f := flow.New("f1", "demo")
	r := flow.NewRoutine("a", "echo")
	r.AddSlot("in", 0)
	r.AddEvent("out", nil)
	r.SetActivationPolicy(flow.Immediate())
	if err := f.AddRoutine(r); err != nil {
		t.Fatalf("add routine: %v", err)
	}
	return f
}

func TestSaveAndLoadFlow(t *testing.T) {
	store := openTestStore(t)
	f := buildTestFlow(t)

	if err := store.SaveFlow(context.Background(), f); err != nil {
		t.Fatalf("save flow: %v", err)
	}
	doc, err := store.LoadFlowDocument(context.Background(), "f1")
	if err != nil {
		t.Fatalf("load flow: %v", err)
	}
	if len(doc) == 0 {
		t.Fatalf("expected a non-empty document")
	}
}

func TestSaveAndLoadJob(t *testing.T) {
	store := openTestStore(t)
	jc := jobctx.New("job-1", "worker-1", "f1", 10)
	jc.SetMetadata("k", "v")
	if err := jc.SetStatus(jobctx.StatusRunning); err != nil {
		t.Fatalf("set status: %v", err)
	}

	if err := store.SaveJob(context.Background(), jc); err != nil {
		t.Fatalf("save job: %v", err)
	}
	rec, err := store.LoadJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if rec.Status != string(jobctx.StatusRunning) {
		t.Fatalf("unexpected status: %s", rec.Status)
	}

	jobs, err := store.ListJobsByFlow(context.Background(), "f1")
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
}
