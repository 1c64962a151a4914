package archive

import (
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"

	simbroker "github.com/bbpgithubaudit/BlueNaaS-Subcellular"
	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/msg"
)

func openTestArchive(t *testing.T) *SQLite {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestPersistStatusUpserts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := openTestArchive(t)

	rec := simbroker.SimulationRecord{
		JobID:   "job-1",
		OwnerID: "u1",
		ModelID: "model-1",
		Status:  msg.StatusQueued,
	}
	if err := a.PersistStatus(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Status = msg.StatusError
	rec.Description = "solver blew up"
	if err := a.PersistStatus(ctx, rec); err != nil {
		t.Fatal(err)
	}

	recs, err := a.GetSimulations(ctx, "u1", "model-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	if recs[0].Status != msg.StatusError {
		t.Errorf("unexpected status. got=%s, want=%s", recs[0].Status, msg.StatusError)
	}
	if recs[0].Description != "solver blew up" {
		t.Errorf("unexpected description. got=%q", recs[0].Description)
	}

	if recs, err := a.GetSimulations(ctx, "u2", "model-1"); err != nil || len(recs) != 0 {
		t.Errorf("records leaked to another owner: %v, %v", recs, err)
	}
}

func TestLogRoundTripPreservesOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := openTestArchive(t)

	entries := []msg.SimLog{
		{JobID: "job-1", Message: "init", Source: "system"},
		{JobID: "job-1", Message: "step 1", Source: "solver"},
		{JobID: "job-1", Message: "done", Source: "system"},
	}
	for _, entry := range entries {
		if err := a.AppendLog(ctx, "job-1", entry); err != nil {
			t.Fatal(err)
		}
	}

	got, err := a.GetLog(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, entries) {
		t.Errorf("log round trip mismatch.\ngot=%+v\nwant=%+v", got, entries)
	}

	if other, err := a.GetLog(ctx, "job-2"); err != nil || len(other) != 0 {
		t.Errorf("log leaked to another job: %v, %v", other, err)
	}
}

func TestTraceRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := openTestArchive(t)

	trace := msg.SimTrace{
		JobID:       "job-1",
		TraceTarget: msg.TraceTargetObservable,
		NSteps:      2,
		Times:       []float64{0, 0.1},
		Values:      [][]float64{{1, 2}, {3, 4}},
		Observables: []string{"A", "B"},
	}
	if err := a.AppendTrace(ctx, "job-1", trace); err != nil {
		t.Fatal(err)
	}

	got, err := a.GetTraces(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one trace, got %d", len(got))
	}
	if !reflect.DeepEqual(got[0], trace) {
		t.Errorf("trace round trip mismatch.\ngot=%+v\nwant=%+v", got[0], trace)
	}
}

func TestSpatialStepTraceQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := openTestArchive(t)

	if idx, err := a.GetLastSpatialStepTraceIdx(ctx, "job-1"); err != nil || idx != -1 {
		t.Fatalf("expected -1 for a job without spatial frames, got %d, %v", idx, err)
	}
	if trace, err := a.GetSpatialStepTrace(ctx, "job-1", 0); err != nil || trace != nil {
		t.Fatalf("expected no frame, got %+v, %v", trace, err)
	}

	for _, stepIdx := range []int{0, 3, 7} {
		err := a.AppendSpatialStepTrace(ctx, "job-1", msg.SimSpatialStepTrace{
			JobID:   "job-1",
			StepIdx: stepIdx,
			Data:    json.RawMessage(`{"tetConcs":[0.1,0.2]}`),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	idx, err := a.GetLastSpatialStepTraceIdx(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if idx != 7 {
		t.Errorf("unexpected last idx. got=%d, want=7", idx)
	}

	trace, err := a.GetSpatialStepTrace(ctx, "job-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if trace == nil || trace.StepIdx != 3 {
		t.Fatalf("unexpected frame: %+v", trace)
	}
	if string(trace.Data) != `{"tetConcs":[0.1,0.2]}` {
		t.Errorf("unexpected data: %s", trace.Data)
	}

	// Re-appending the same step replaces the frame.
	err = a.AppendSpatialStepTrace(ctx, "job-1", msg.SimSpatialStepTrace{
		JobID:   "job-1",
		StepIdx: 3,
		Data:    json.RawMessage(`{"tetConcs":[0.9]}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	trace, err = a.GetSpatialStepTrace(ctx, "job-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if string(trace.Data) != `{"tetConcs":[0.9]}` {
		t.Errorf("frame not replaced: %s", trace.Data)
	}
}

func TestDeleteSimulationRemovesEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := openTestArchive(t)

	rec := simbroker.SimulationRecord{JobID: "job-1", OwnerID: "u1", ModelID: "m1", Status: msg.StatusFinished}
	if err := a.PersistStatus(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := a.AppendLog(ctx, "job-1", msg.SimLog{JobID: "job-1", Message: "hi", Source: "system"}); err != nil {
		t.Fatal(err)
	}
	if err := a.AppendTrace(ctx, "job-1", msg.SimTrace{JobID: "job-1", TraceTarget: msg.TraceTargetSpecies}); err != nil {
		t.Fatal(err)
	}
	if err := a.AppendSpatialStepTrace(ctx, "job-1", msg.SimSpatialStepTrace{JobID: "job-1", StepIdx: 1, Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}

	if err := a.DeleteSimulation(ctx, "job-1"); err != nil {
		t.Fatal(err)
	}

	if recs, _ := a.GetSimulations(ctx, "u1", "m1"); len(recs) != 0 {
		t.Errorf("simulation record survived delete: %+v", recs)
	}
	if entries, _ := a.GetLog(ctx, "job-1"); len(entries) != 0 {
		t.Errorf("log survived delete: %+v", entries)
	}
	if traces, _ := a.GetTraces(ctx, "job-1"); len(traces) != 0 {
		t.Errorf("traces survived delete: %+v", traces)
	}
	if idx, _ := a.GetLastSpatialStepTraceIdx(ctx, "job-1"); idx != -1 {
		t.Errorf("spatial frames survived delete, last idx %d", idx)
	}
}
