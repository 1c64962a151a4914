package worker

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/url"
	"testing"
	"time"

	"github.com/hnakamur/ltsvlog"
	"golang.org/x/net/context"

	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/msg"
)

func newTestWorker(runFunc RunFunc) *Worker {
	w := NewWorker(url.URL{}, 64, runFunc, time.Second, time.Second, ltsvlog.NewLTSVLogger(ioutil.Discard, false))
	w.sendC = make(chan []byte, 64)
	return w
}

func recvWorkerFrame(t *testing.T, w *Worker) msg.Message {
	t.Helper()
	select {
	case frame := <-w.sendC:
		m, err := msg.Decode(frame)
		if err != nil {
			t.Fatalf("received undecodable frame: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return msg.Message{}
}

func recvWorkerStatus(t *testing.T, w *Worker) msg.SimStatus {
	t.Helper()
	m := recvWorkerFrame(t, w)
	if m.Cmd != msg.CmdSimStatus {
		t.Fatalf("unexpected cmd. got=%s, want=%s", m.Cmd, msg.CmdSimStatus)
	}
	var st msg.SimStatus
	if err := m.DecodeData(&st); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestStartJobReportsRunningThenFinished(t *testing.T) {
	w := newTestWorker(func(ctx context.Context, job msg.StartJob, s *Stream) error {
		s.Log("hello", "system")
		return nil
	})

	w.startJob(context.Background(), msg.StartJob{JobID: "job-1", Config: json.RawMessage(`{}`)})

	if st := recvWorkerStatus(t, w); st.Status != msg.StatusRunning || st.JobID != "job-1" {
		t.Fatalf("unexpected first status: %+v", st)
	}
	logFrame := recvWorkerFrame(t, w)
	if logFrame.Cmd != msg.CmdSimLog {
		t.Fatalf("unexpected cmd. got=%s, want=%s", logFrame.Cmd, msg.CmdSimLog)
	}
	if st := recvWorkerStatus(t, w); st.Status != msg.StatusFinished {
		t.Fatalf("unexpected final status: %+v", st)
	}
}

func TestStartJobReportsSimulationError(t *testing.T) {
	w := newTestWorker(func(ctx context.Context, job msg.StartJob, s *Stream) error {
		return errors.New("matrix is singular")
	})

	w.startJob(context.Background(), msg.StartJob{JobID: "job-1"})

	recvWorkerStatus(t, w) // running
	st := recvWorkerStatus(t, w)
	if st.Status != msg.StatusError {
		t.Fatalf("unexpected status. got=%s, want=%s", st.Status, msg.StatusError)
	}
	if st.Description != "matrix is singular" {
		t.Errorf("error description not surfaced verbatim: %q", st.Description)
	}
}

func TestStopJobCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	w := newTestWorker(func(ctx context.Context, job msg.StartJob, s *Stream) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	w.startJob(context.Background(), msg.StartJob{JobID: "job-1"})
	<-started
	recvWorkerStatus(t, w) // running

	w.stopJob("job-1")
	st := recvWorkerStatus(t, w)
	if st.Status != msg.StatusCancelled {
		t.Fatalf("unexpected status. got=%s, want=%s", st.Status, msg.StatusCancelled)
	}
}

func TestStopJobIgnoresOtherJobIDs(t *testing.T) {
	running := make(chan struct{})
	release := make(chan struct{})
	w := newTestWorker(func(ctx context.Context, job msg.StartJob, s *Stream) error {
		close(running)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	})

	w.startJob(context.Background(), msg.StartJob{JobID: "job-1"})
	<-running
	recvWorkerStatus(t, w) // running

	w.stopJob("job-2")
	close(release)

	st := recvWorkerStatus(t, w)
	if st.Status != msg.StatusFinished {
		t.Fatalf("stop for another job cancelled the run: %+v", st)
	}
}

func TestStartJobWhileBusyReportsError(t *testing.T) {
	release := make(chan struct{})
	w := newTestWorker(func(ctx context.Context, job msg.StartJob, s *Stream) error {
		<-release
		return nil
	})

	w.startJob(context.Background(), msg.StartJob{JobID: "job-1"})
	recvWorkerStatus(t, w) // running

	w.startJob(context.Background(), msg.StartJob{JobID: "job-2"})
	st := recvWorkerStatus(t, w)
	if st.JobID != "job-2" || st.Status != msg.StatusError {
		t.Fatalf("expected error status for the second job, got %+v", st)
	}
	close(release)
}

func TestStreamAccumulatesTmpLogAndTrace(t *testing.T) {
	w := newTestWorker(nil)
	s := &Stream{w: w, jobID: "job-1"}

	s.Log("one", "system")
	s.Log("two", "solver")
	s.SetTraceMeta(msg.TraceTargetObservable, []string{"A"}, nil, nil)
	s.StepTrace(0, 0, []float64{1})
	s.StepTrace(0.1, 1, []float64{2})

	entries := s.snapshotLog()
	if len(entries) != 2 || entries[0].Message != "one" || entries[1].Message != "two" {
		t.Fatalf("unexpected log snapshot: %+v", entries)
	}

	trace := s.snapshotTrace()
	if trace.JobID != "job-1" || trace.NSteps != 2 {
		t.Fatalf("unexpected trace snapshot: %+v", trace)
	}
	if trace.TraceTarget != msg.TraceTargetObservable {
		t.Errorf("unexpected trace target: %s", trace.TraceTarget)
	}
	if len(trace.Times) != 2 || trace.Times[1] != 0.1 {
		t.Errorf("unexpected times: %v", trace.Times)
	}

	// The snapshot is a copy: mutating it must not affect the stream.
	trace.Times[0] = 42
	again := s.snapshotTrace()
	if again.Times[0] != 0 {
		t.Error("snapshot shares backing storage with the stream")
	}
}
