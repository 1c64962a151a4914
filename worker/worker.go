// Package worker implements the simulation-worker side of the broker
// protocol: a reconnecting websocket client that executes one job at a time
// and streams status, log and trace frames back to the broker.
package worker

import (
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hnakamur/ltsvlog"
	"golang.org/x/net/context"

	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/msg"
)

// RunFunc executes one simulation job. Progress is streamed through s; ctx
// is cancelled when the broker stops the job or the connection is lost. A
// non-nil error reports a simulation failure with the returned description.
type RunFunc func(ctx context.Context, job msg.StartJob, s *Stream) error

// Worker connects to the broker, executes start instructions with a RunFunc
// and reconnects when the broker goes away. A job interrupted by a
// connection loss is aborted; the broker already reports it as failed.
type Worker struct {
	serverURL               url.URL
	sendChannelLength       int
	runFunc                 RunFunc
	delayAfterSendingClose  time.Duration
	delayBeforeReconnecting time.Duration
	logger                  ltsvlog.LogWriter

	mu      sync.Mutex
	sendC   chan []byte
	current *Stream
	cancel  context.CancelFunc
}

func NewWorker(serverURL url.URL, sendChannelLength int, runFunc RunFunc, delayAfterSendingClose, delayBeforeReconnecting time.Duration, logger ltsvlog.LogWriter) *Worker {
	return &Worker{
		serverURL:               serverURL,
		sendChannelLength:       sendChannelLength,
		runFunc:                 runFunc,
		delayAfterSendingClose:  delayAfterSendingClose,
		delayBeforeReconnecting: delayBeforeReconnecting,
		logger:                  logger,
	}
}

// Run connects to the broker and serves jobs until ctx is cancelled,
// reconnecting after connection failures.
func (w *Worker) Run(ctx context.Context) error {
	for {
		err := w.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Error(ltsvlog.LV{L: "msg", V: "connection to broker lost"},
			ltsvlog.LV{L: "err", V: err})
		w.abortCurrent()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.delayBeforeReconnecting):
			if w.logger.DebugEnabled() {
				w.logger.Debug(ltsvlog.LV{L: "msg", V: "retrying connect to broker"})
			}
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) error {
	w.logger.Info(ltsvlog.LV{L: "msg", V: "connecting to broker"},
		ltsvlog.LV{L: "address", V: w.serverURL.String()})
	c, _, err := websocket.DefaultDialer.Dial(w.serverURL.String(), nil)
	if err != nil {
		return err
	}
	defer c.Close()
	w.logger.Info(ltsvlog.LV{L: "msg", V: "connected to broker"},
		ltsvlog.LV{L: "address", V: w.serverURL.String()})

	w.mu.Lock()
	w.sendC = make(chan []byte, w.sendChannelLength)
	sendC := w.sendC
	w.mu.Unlock()

	doneC := make(chan struct{})
	go func() {
		defer close(doneC)
		w.readPump(ctx, c)
	}()

	for {
		select {
		case frame := <-sendC:
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-doneC:
			return errors.New("broker closed the connection")
		case <-ctx.Done():
			// To cleanly close a connection, a worker should send a close
			// frame and wait for the broker to close the connection.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				w.logger.Error(ltsvlog.LV{L: "msg", V: "write close error"},
					ltsvlog.LV{L: "err", V: err})
				return ctx.Err()
			}
			select {
			case <-doneC:
			case <-time.After(w.delayAfterSendingClose):
			}
			return ctx.Err()
		}
	}
}

func (w *Worker) readPump(ctx context.Context, c *websocket.Conn) {
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			w.logger.Debug(ltsvlog.LV{L: "msg", V: "read error"},
				ltsvlog.LV{L: "err", V: err})
			return
		}
		m, err := msg.Decode(raw)
		if err != nil {
			w.logger.Error(ltsvlog.LV{L: "msg", V: "malformed broker frame"},
				ltsvlog.LV{L: "err", V: err})
			continue
		}
		switch m.Cmd {
		case msg.CmdStartJob:
			var job msg.StartJob
			if err := m.DecodeData(&job); err != nil {
				w.logger.Error(ltsvlog.LV{L: "msg", V: "malformed start instruction"},
					ltsvlog.LV{L: "err", V: err})
				continue
			}
			w.startJob(ctx, job)
		case msg.CmdStopJob:
			var stop msg.StopJob
			if err := m.DecodeData(&stop); err != nil {
				w.logger.Error(ltsvlog.LV{L: "msg", V: "malformed stop instruction"},
					ltsvlog.LV{L: "err", V: err})
				continue
			}
			w.stopJob(stop.JobID)
		case msg.CmdGetTmpLog:
			var ref msg.JobRef
			if err := m.DecodeData(&ref); err != nil {
				continue
			}
			reply := msg.TmpLog{JobID: ref.JobID}
			if s := w.currentFor(ref.JobID); s != nil {
				reply.Entries = s.snapshotLog()
			}
			w.enqueue(msg.CmdTmpLog, m.CmdID, &reply)
		case msg.CmdGetTmpTrace:
			var ref msg.JobRef
			if err := m.DecodeData(&ref); err != nil {
				continue
			}
			reply := msg.TmpTrace{JobID: ref.JobID}
			if s := w.currentFor(ref.JobID); s != nil {
				reply.Trace = s.snapshotTrace()
			}
			w.enqueue(msg.CmdTmpTrace, m.CmdID, &reply)
		default:
			w.logger.Error(ltsvlog.LV{L: "msg", V: "unexpected broker command"},
				ltsvlog.LV{L: "cmd", V: m.Cmd})
		}
	}
}

func (w *Worker) startJob(ctx context.Context, job msg.StartJob) {
	w.mu.Lock()
	if w.current != nil {
		busy := w.current.jobID
		w.mu.Unlock()
		w.logger.Error(ltsvlog.LV{L: "msg", V: "received startJob while busy"},
			ltsvlog.LV{L: "job_id", V: job.JobID},
			ltsvlog.LV{L: "busy_job_id", V: busy})
		w.enqueue(msg.CmdSimStatus, 0, &msg.SimStatus{
			JobID:       job.JobID,
			Status:      msg.StatusError,
			Description: "worker is already executing a job",
		})
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	s := &Stream{w: w, jobID: job.JobID}
	w.current = s
	w.cancel = cancel
	w.mu.Unlock()

	w.logger.Info(ltsvlog.LV{L: "msg", V: "starting job"},
		ltsvlog.LV{L: "job_id", V: job.JobID})

	go func() {
		defer func() {
			cancel()
			w.mu.Lock()
			if w.current == s {
				w.current = nil
				w.cancel = nil
			}
			w.mu.Unlock()
		}()
		s.Status(msg.StatusRunning, "")
		err := w.runFunc(jobCtx, job, s)
		switch {
		case jobCtx.Err() != nil:
			s.Status(msg.StatusCancelled, "")
		case err != nil:
			s.Status(msg.StatusError, err.Error())
		default:
			s.Status(msg.StatusFinished, "")
		}
	}()
}

func (w *Worker) stopJob(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil && w.current.jobID == jobID && w.cancel != nil {
		w.cancel()
	}
}

func (w *Worker) abortCurrent() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Worker) currentFor(jobID string) *Stream {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil && w.current.jobID == jobID {
		return w.current
	}
	return nil
}

// enqueue marshals and queues an outbound frame, best effort. Frames are
// dropped when the connection is down or the buffer is full; the broker's
// delivery contract is best effort anyway.
func (w *Worker) enqueue(cmd string, cmdid uint64, data interface{}) {
	frame, err := msg.Encode(cmd, cmdid, data)
	if err != nil {
		w.logger.Error(ltsvlog.LV{L: "msg", V: "encode error"},
			ltsvlog.LV{L: "cmd", V: cmd},
			ltsvlog.LV{L: "err", V: err})
		return
	}
	w.mu.Lock()
	sendC := w.sendC
	w.mu.Unlock()
	if sendC == nil {
		return
	}
	select {
	case sendC <- frame:
	default:
		w.logger.Error(ltsvlog.LV{L: "msg", V: "dropped outbound frame"},
			ltsvlog.LV{L: "cmd", V: cmd})
	}
}

// Stream is a running job's channel back to the broker. It pushes frames as
// they are produced and accumulates the in-memory log and scalar trace that
// answer getTmpLog and getTmpTrace.
type Stream struct {
	w     *Worker
	jobID string

	mu      sync.Mutex
	entries []msg.SimLog
	trace   msg.SimTrace
}

// Status reports an execution status for the job.
func (s *Stream) Status(status msg.Status, description string) {
	s.w.enqueue(msg.CmdSimStatus, 0, &msg.SimStatus{
		JobID:       s.jobID,
		Status:      status,
		Description: description,
	})
}

// Log emits one log line and keeps it for getTmpLog.
func (s *Stream) Log(message, source string) {
	entry := msg.SimLog{JobID: s.jobID, Message: message, Source: source}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	s.w.enqueue(msg.CmdSimLog, 0, &entry)
}

// SetTraceMeta declares what the scalar trace records before the first step.
func (s *Stream) SetTraceMeta(traceTarget string, observables, species, structures []string) {
	s.mu.Lock()
	s.trace = msg.SimTrace{
		JobID:       s.jobID,
		TraceTarget: traceTarget,
		Observables: observables,
		Species:     species,
		Structures:  structures,
	}
	s.mu.Unlock()
}

// StepTrace emits one incremental scalar trace frame and accumulates it into
// the in-memory trace.
func (s *Stream) StepTrace(t float64, stepIdx int, values []float64) {
	s.mu.Lock()
	s.trace.Times = append(s.trace.Times, t)
	s.trace.Values = append(s.trace.Values, values)
	s.trace.NSteps = len(s.trace.Times)
	s.mu.Unlock()
	s.w.enqueue(msg.CmdSimStepTrace, 0, &msg.SimStepTrace{
		JobID:   s.jobID,
		T:       t,
		StepIdx: stepIdx,
		Values:  values,
	})
}

// Trace emits the complete scalar trace, typically once at the end of the
// run. The broker archives it for later get_trace requests.
func (s *Stream) Trace() {
	trace := s.snapshotTrace()
	s.w.enqueue(msg.CmdSimTrace, 0, &trace)
}

// SpatialStepTrace emits one spatial snapshot.
func (s *Stream) SpatialStepTrace(stepIdx int, data json.RawMessage) {
	s.w.enqueue(msg.CmdSimSpatialStepTrace, 0, &msg.SimSpatialStepTrace{
		JobID:   s.jobID,
		StepIdx: stepIdx,
		Data:    data,
	})
}

func (s *Stream) snapshotLog() []msg.SimLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]msg.SimLog, len(s.entries))
	copy(entries, s.entries)
	return entries
}

func (s *Stream) snapshotTrace() msg.SimTrace {
	s.mu.Lock()
	defer s.mu.Unlock()
	trace := s.trace
	trace.JobID = s.jobID
	trace.Times = append([]float64(nil), s.trace.Times...)
	trace.Values = append([][]float64(nil), s.trace.Values...)
	trace.NSteps = len(trace.Times)
	return trace
}
