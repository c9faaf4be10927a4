package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tiangong-ai/workspace/pkg/engine"
	"github.com/tiangong-ai/workspace/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id string, status engine.RunStatus) *engine.TaskRun {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &engine.TaskRun{
		ID:          id,
		Task:        "summarize recent work on solid oxide fuel cells",
		Engine:      engine.VariantNative,
		Status:      status,
		FinalAnswer: "summary text",
		StartedAt:   started,
		FinishedAt:  started.Add(40 * time.Second),
		Budget:      engine.Budget{MaxSteps: 5, MaxDuration: 10 * time.Minute},
		Steps: []engine.Step{
			{
				Index:      0,
				Thought:    "search first",
				Capability: "web_search",
				Args:       map[string]any{"query": "solid oxide fuel cells 2026"},
				Result:     map[string]any{"hits": float64(3)},
				Latency:    1200 * time.Millisecond,
				Retries:    1,
			},
			{
				Index: 1,
				Error: "unknown capability \"teleport\"",
			},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := sampleRun("run-1", engine.StatusDone)
	if err := s.SaveRun(ctx, want); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Task != want.Task || got.Status != want.Status || got.FinalAnswer != want.FinalAnswer {
		t.Errorf("run mismatch: %+v", got)
	}
	if got.Budget.MaxSteps != 5 || got.Budget.MaxDuration != 10*time.Minute {
		t.Errorf("budget mismatch: %+v", got.Budget)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(got.Steps))
	}
	first := got.Steps[0]
	if first.Capability != "web_search" || first.Retries != 1 {
		t.Errorf("step mismatch: %+v", first)
	}
	if first.Args["query"] != "solid oxide fuel cells 2026" {
		t.Errorf("args not preserved: %+v", first.Args)
	}
	if got.Steps[1].Error == "" {
		t.Error("error step not preserved")
	}
}

func TestSaveRunUpsertsStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-2", engine.StatusPlanning)
	run.FinishedAt = time.Time{}
	run.Steps = nil
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	run.Status = engine.StatusFailed
	run.Reason = "repeated invalid proposal"
	run.FinishedAt = run.StartedAt.Add(5 * time.Second)
	run.Steps = []engine.Step{{Index: 0, Error: "invalid"}}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := s.GetRun(ctx, "run-2")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != engine.StatusFailed || got.Reason != "repeated invalid proposal" {
		t.Errorf("upsert not applied: %+v", got)
	}
	if len(got.Steps) != 1 {
		t.Errorf("step trace not replaced, got %d steps", len(got.Steps))
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected not found")
	}
	if errors.CodeOf(err) != errors.CodeNotFound {
		t.Errorf("expected not found code, got %v", errors.CodeOf(err))
	}
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := sampleRun("run-a", engine.StatusDone)
	b := sampleRun("run-b", engine.StatusFailed)
	b.StartedAt = a.StartedAt.Add(time.Hour)
	for _, run := range []*engine.TaskRun{a, b} {
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	all, err := s.ListRuns(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(all))
	}
	if all[0].ID != "run-b" {
		t.Errorf("expected newest first, got %s", all[0].ID)
	}

	failed, err := s.ListRuns(ctx, Filter{Status: engine.StatusFailed})
	if err != nil {
		t.Fatalf("ListRuns filtered: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "run-b" {
		t.Errorf("status filter not applied: %+v", failed)
	}

	limited, err := s.ListRuns(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit not applied, got %d", len(limited))
	}
}
