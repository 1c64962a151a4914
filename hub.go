package simbroker

import (
	"errors"

	"github.com/google/uuid"
	"github.com/hnakamur/ltsvlog"
	"golang.org/x/net/context"

	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/msg"
)

const workerLostDescription = "simulation worker disconnected unexpectedly"

var (
	errUnknownCommand  = errors.New("unknown command")
	errNoCorrelationID = errors.New("reply without correlation id")
)

// Hub is the broker: it owns both connection registries, the active job
// table, the FIFO wait queue and the pending-correlation map, and serializes
// every mutation of that state through its Run loop.
type Hub struct {
	logger  ltsvlog.LogWriter
	archive Archive

	clients *clientRegistry
	pool    *workerPool

	// Active jobs by id. Terminal jobs are evicted once the archive has
	// durably recorded their final status.
	jobs map[string]*Job

	// Job ids waiting for worker capacity, oldest first.
	waitQueue []string

	// Correlated requests forwarded to workers, keyed by the broker-minted
	// correlation id.
	pending map[uint64]pendingRequest
	corrID  uint64

	// Register client requests from connections.
	registerClientC chan *Conn

	// Unregister client requests from connections.
	unregisterClientC chan *Conn

	// Register worker requests from connections.
	registerWorkerC chan *Conn

	// Unregister worker requests from connections.
	unregisterWorkerC chan *Conn

	// Inbound frames from client connections.
	clientFrameC chan connFrame

	// Inbound frames from worker connections.
	workerFrameC chan connFrame

	// Archive replies to be delivered to a single client.
	deliverC chan delivery

	// Job ids whose terminal status has been durably recorded.
	evictC chan string

	// Closed when Run returns, so connection pumps blocked on the channels
	// above can bail out instead of leaking.
	doneC chan struct{}
}

type connFrame struct {
	conn *Conn
	msg  msg.Message
}

// pendingRequest records which client connection is awaiting a reply and
// which job and worker the request concerns. Entries are resolved by the
// worker's reply or by its disconnect, never left pending.
type pendingRequest struct {
	client *Conn
	cmdid  uint64
	jobID  string
	worker *Conn
}

type delivery struct {
	conn  *Conn
	frame []byte
}

// NewHub creates a hub backed by the given archive.
func NewHub(logger ltsvlog.LogWriter, archive Archive) *Hub {
	return &Hub{
		logger:            logger,
		archive:           archive,
		clients:           newClientRegistry(),
		pool:              newWorkerPool(),
		jobs:              make(map[string]*Job),
		pending:           make(map[uint64]pendingRequest),
		registerClientC:   make(chan *Conn),
		unregisterClientC: make(chan *Conn),
		registerWorkerC:   make(chan *Conn),
		unregisterWorkerC: make(chan *Conn),
		clientFrameC:      make(chan connFrame),
		workerFrameC:      make(chan connFrame),
		deliverC:          make(chan delivery),
		evictC:            make(chan string),
		doneC:             make(chan struct{}),
	}
}

// Run runs the hub until ctx is cancelled. All registry mutations,
// scheduling decisions and routing happen on this goroutine.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case c := <-h.registerClientC:
			h.clients.register(c)
			h.logger.Info(ltsvlog.LV{L: "msg", V: "registered client"},
				ltsvlog.LV{L: "conn_id", V: c.id},
				ltsvlog.LV{L: "user_id", V: c.ownerID})
		case c := <-h.unregisterClientC:
			if h.clients.unregister(c) {
				close(c.sendC)
			}
			h.logger.Info(ltsvlog.LV{L: "msg", V: "unregistered client"},
				ltsvlog.LV{L: "conn_id", V: c.id},
				ltsvlog.LV{L: "user_id", V: c.ownerID})
		case c := <-h.registerWorkerC:
			h.pool.register(c)
			h.logger.Info(ltsvlog.LV{L: "msg", V: "registered worker"},
				ltsvlog.LV{L: "conn_id", V: c.id},
				ltsvlog.LV{L: "idle_workers", V: h.pool.idleCount()})
			h.tryAssign(ctx)
		case c := <-h.unregisterWorkerC:
			h.dropWorker(ctx, c)
		case f := <-h.clientFrameC:
			h.handleClientFrame(ctx, f)
		case f := <-h.workerFrameC:
			h.handleWorkerFrame(ctx, f)
		case d := <-h.deliverC:
			h.clients.send(d.conn, d.frame)
		case jobID := <-h.evictC:
			delete(h.jobs, jobID)
		case <-ctx.Done():
			h.clients.closeAll()
			h.pool.closeAll()
			close(h.doneC)
			return nil
		}
	}
}

// submit allocates a job, records it as queued, appends it to the wait queue
// and immediately attempts assignment.
func (h *Hub) submit(ctx context.Context, ownerID string, req msg.RunSimulation) {
	job := &Job{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		ModelID: req.ModelID,
		Config:  req.Config,
		Status:  msg.StatusQueued,
	}
	h.jobs[job.ID] = job
	h.waitQueue = append(h.waitQueue, job.ID)
	h.logger.Info(ltsvlog.LV{L: "msg", V: "job submitted"},
		ltsvlog.LV{L: "job_id", V: job.ID},
		ltsvlog.LV{L: "user_id", V: ownerID})
	h.broadcastStatus(ctx, job)
	h.tryAssign(ctx)
}

// tryAssign pops queued jobs while idle workers exist, oldest job first. A
// start instruction that cannot be delivered removes the worker and leaves
// the job at the head of the queue.
func (h *Hub) tryAssign(ctx context.Context) {
	for len(h.waitQueue) > 0 {
		jobID := h.waitQueue[0]
		job, ok := h.jobs[jobID]
		if !ok || job.Status != msg.StatusQueued {
			// Cancelled or stale entry.
			h.waitQueue = h.waitQueue[1:]
			continue
		}
		frame, err := msg.Encode(msg.CmdStartJob, 0, &msg.StartJob{JobID: job.ID, Config: job.Config})
		if err != nil {
			h.waitQueue = h.waitQueue[1:]
			h.logger.Error(ltsvlog.LV{L: "msg", V: "failed to encode start instruction"},
				ltsvlog.LV{L: "job_id", V: job.ID},
				ltsvlog.LV{L: "err", V: err})
			h.setStatus(ctx, job, msg.StatusError, "failed to encode start instruction")
			continue
		}
		w := h.pool.pickIdle(job.ID)
		if w == nil {
			return
		}
		select {
		case w.sendC <- frame:
			h.waitQueue = h.waitQueue[1:]
			job.boundWorker = w
			h.setStatus(ctx, job, msg.StatusInitializing, "")
			h.logger.Info(ltsvlog.LV{L: "msg", V: "job assigned"},
				ltsvlog.LV{L: "job_id", V: job.ID},
				ltsvlog.LV{L: "worker_id", V: w.id})
		default:
			// The worker connection is already dead. Treat it as lost; the
			// job stays at the head of the queue.
			h.logger.Error(ltsvlog.LV{L: "msg", V: "start instruction undeliverable"},
				ltsvlog.LV{L: "job_id", V: job.ID},
				ltsvlog.LV{L: "worker_id", V: w.id})
			h.dropWorker(ctx, w)
		}
	}
}

// cancel applies a cancellation request. Unknown and already-terminal jobs
// are a no-op. The status transition is optimistic: the worker may already
// be gone, so visible status never waits for its acknowledgment.
func (h *Hub) cancel(ctx context.Context, jobID string) {
	job, ok := h.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return
	}
	if job.Status == msg.StatusQueued {
		for i, id := range h.waitQueue {
			if id == jobID {
				h.waitQueue = append(h.waitQueue[:i], h.waitQueue[i+1:]...)
				break
			}
		}
		h.setStatus(ctx, job, msg.StatusCancelled, "")
		return
	}
	w := job.boundWorker
	h.setStatus(ctx, job, msg.StatusCancelled, "")
	if w == nil {
		return
	}
	// Fire and forget toward the worker. Its pool slot stays bound until it
	// confirms a terminal status or disconnects.
	frame, err := msg.Encode(msg.CmdStopJob, 0, &msg.StopJob{JobID: jobID})
	if err != nil {
		h.logger.Error(ltsvlog.LV{L: "msg", V: "failed to encode stop instruction"},
			ltsvlog.LV{L: "job_id", V: jobID},
			ltsvlog.LV{L: "err", V: err})
		return
	}
	select {
	case w.sendC <- frame:
	default:
		h.dropWorker(ctx, w)
	}
}

// dropWorker removes a worker from the pool, resolves every pending request
// targeting it with an unavailable reply, and fails its bound job if that
// job was still executing.
func (h *Hub) dropWorker(ctx context.Context, c *Conn) {
	jobID, ok := h.pool.release(c)
	if !ok {
		return
	}
	close(c.sendC)
	h.logger.Info(ltsvlog.LV{L: "msg", V: "worker lost"},
		ltsvlog.LV{L: "conn_id", V: c.id},
		ltsvlog.LV{L: "bound_job_id", V: jobID})
	for id, p := range h.pending {
		if p.worker != c {
			continue
		}
		delete(h.pending, id)
		h.replyError(p.client, p.cmdid, "simulation worker disconnected before replying")
	}
	if jobID == "" {
		return
	}
	if job, ok := h.jobs[jobID]; ok && job.active() && job.boundWorker == c {
		job.boundWorker = nil
		h.setStatus(ctx, job, msg.StatusError, workerLostDescription)
	}
}

// setStatus applies one lifecycle transition, broadcasts it to the owner's
// clients and hands it to the archive. Illegal transitions are ignored.
func (h *Hub) setStatus(ctx context.Context, job *Job, status msg.Status, description string) {
	if !validTransition(job.Status, status) {
		if h.logger.DebugEnabled() {
			h.logger.Debug(ltsvlog.LV{L: "msg", V: "ignored status transition"},
				ltsvlog.LV{L: "job_id", V: job.ID},
				ltsvlog.LV{L: "from", V: job.Status},
				ltsvlog.LV{L: "to", V: status})
		}
		return
	}
	job.Status = status
	job.Description = description
	if status.Terminal() {
		job.boundWorker = nil
	}
	h.broadcastStatus(ctx, job)
}

// broadcastStatus fans the job's current status out to the owner's clients
// and persists it. A terminal job is evicted from the active table once the
// archive write has completed; the hub never blocks on the archive itself.
func (h *Hub) broadcastStatus(ctx context.Context, job *Job) {
	frame, err := msg.Encode(msg.CmdSimStatus, 0, &msg.SimStatus{
		JobID:       job.ID,
		Status:      job.Status,
		Description: job.Description,
	})
	if err != nil {
		h.logger.Error(ltsvlog.LV{L: "msg", V: "failed to encode status push"},
			ltsvlog.LV{L: "job_id", V: job.ID},
			ltsvlog.LV{L: "err", V: err})
		return
	}
	h.clients.fanOut(job.OwnerID, frame)

	rec := SimulationRecord{
		JobID:       job.ID,
		OwnerID:     job.OwnerID,
		ModelID:     job.ModelID,
		Status:      job.Status,
		Description: job.Description,
	}
	terminal := job.Status.Terminal()
	go func() {
		if err := h.archive.PersistStatus(ctx, rec); err != nil {
			h.logger.Error(ltsvlog.LV{L: "msg", V: "failed to persist status"},
				ltsvlog.LV{L: "job_id", V: rec.JobID},
				ltsvlog.LV{L: "err", V: err})
		}
		if terminal {
			select {
			case h.evictC <- rec.JobID:
			case <-ctx.Done():
			}
		}
	}()
}

// jobForSender returns the job only when the frame's sender is its bound
// worker; frames about jobs bound elsewhere are dropped.
func (h *Hub) jobForSender(c *Conn, jobID string) *Job {
	job, ok := h.jobs[jobID]
	if !ok || job.boundWorker != c {
		return nil
	}
	return job
}

// activeBoundJob returns the job when it is in the active table and bound to
// a live worker; any other state answers from the archive.
func (h *Hub) activeBoundJob(jobID string) *Job {
	job, ok := h.jobs[jobID]
	if !ok || !job.active() || job.boundWorker == nil {
		return nil
	}
	return job
}

func (h *Hub) handleClientFrame(ctx context.Context, f connFrame) {
	c, m := f.conn, f.msg
	if h.logger.DebugEnabled() {
		h.logger.Debug(ltsvlog.LV{L: "msg", V: "got client frame"},
			ltsvlog.LV{L: "cmd", V: m.Cmd},
			ltsvlog.LV{L: "conn_id", V: c.id})
	}
	switch m.Cmd {
	case msg.CmdRunSimulation:
		var req msg.RunSimulation
		if err := m.DecodeData(&req); err != nil {
			h.malformed(c, m, err)
			return
		}
		h.submit(ctx, c.ownerID, req)
	case msg.CmdCancelSimulation:
		var req msg.CancelSimulation
		if err := m.DecodeData(&req); err != nil {
			h.malformed(c, m, err)
			return
		}
		h.cancel(ctx, req.JobID)
	case msg.CmdGetLog:
		var ref msg.JobRef
		if err := m.DecodeData(&ref); err != nil {
			h.malformed(c, m, err)
			return
		}
		if job := h.activeBoundJob(ref.JobID); job != nil {
			h.forwardToWorker(ctx, job, c, m.CmdID, msg.CmdGetTmpLog)
			return
		}
		h.archiveGetLog(ctx, c, m.CmdID, ref.JobID)
	case msg.CmdGetTrace:
		var ref msg.JobRef
		if err := m.DecodeData(&ref); err != nil {
			h.malformed(c, m, err)
			return
		}
		if job := h.activeBoundJob(ref.JobID); job != nil {
			h.forwardToWorker(ctx, job, c, m.CmdID, msg.CmdGetTmpTrace)
			return
		}
		h.archiveGetTraces(ctx, c, m.CmdID, ref.JobID)
	case msg.CmdGetSpatialStepTrace:
		var req msg.GetSpatialStepTrace
		if err := m.DecodeData(&req); err != nil {
			h.malformed(c, m, err)
			return
		}
		h.archiveGetSpatialStepTrace(ctx, c, m.CmdID, req)
	case msg.CmdGetLastSpatialStepTraceIdx:
		var ref msg.JobRef
		if err := m.DecodeData(&ref); err != nil {
			h.malformed(c, m, err)
			return
		}
		h.archiveGetLastSpatialStepTraceIdx(ctx, c, m.CmdID, ref.JobID)
	case msg.CmdGetSimulations:
		var req msg.GetSimulations
		if err := m.DecodeData(&req); err != nil {
			h.malformed(c, m, err)
			return
		}
		h.archiveGetSimulations(ctx, c, m.CmdID, req.ModelID)
	case msg.CmdDeleteSimulation:
		var req msg.DeleteSimulation
		if err := m.DecodeData(&req); err != nil {
			h.malformed(c, m, err)
			return
		}
		h.cancel(ctx, req.JobID)
		go func() {
			if err := h.archive.DeleteSimulation(ctx, req.JobID); err != nil {
				h.logger.Error(ltsvlog.LV{L: "msg", V: "failed to delete simulation"},
					ltsvlog.LV{L: "job_id", V: req.JobID},
					ltsvlog.LV{L: "err", V: err})
			}
		}()
	default:
		err := errUnknownCommand
		if m.Cmd == "" {
			err = msg.ErrEmptyCommand
		}
		h.malformed(c, m, err)
	}
}

// forwardToWorker relays a correlated request to the job's bound worker
// under a freshly minted correlation id. Client cmdids are client-scoped, so
// they never travel on the worker leg.
func (h *Hub) forwardToWorker(ctx context.Context, job *Job, c *Conn, clientCmdID uint64, workerCmd string) {
	if clientCmdID == 0 {
		h.logger.Error(ltsvlog.LV{L: "msg", V: "dropped request without cmdid"},
			ltsvlog.LV{L: "cmd", V: workerCmd},
			ltsvlog.LV{L: "job_id", V: job.ID})
		return
	}
	h.corrID++
	id := h.corrID
	frame, err := msg.Encode(workerCmd, id, &msg.JobRef{JobID: job.ID})
	if err != nil {
		h.replyError(c, clientCmdID, "failed to encode request")
		return
	}
	w := job.boundWorker
	select {
	case w.sendC <- frame:
		h.pending[id] = pendingRequest{client: c, cmdid: clientCmdID, jobID: job.ID, worker: w}
	default:
		h.dropWorker(ctx, w)
		h.replyError(c, clientCmdID, "simulation worker disconnected before replying")
	}
}

func (h *Hub) handleWorkerFrame(ctx context.Context, f connFrame) {
	c, m := f.conn, f.msg
	switch m.Cmd {
	case msg.CmdSimStatus:
		var st msg.SimStatus
		if err := m.DecodeData(&st); err != nil {
			h.logWorkerMalformed(c, m, err)
			return
		}
		h.handleWorkerStatus(ctx, c, st)
	case msg.CmdSimLog:
		var entry msg.SimLog
		if err := m.DecodeData(&entry); err != nil {
			h.logWorkerMalformed(c, m, err)
			return
		}
		job := h.jobForSender(c, entry.JobID)
		if job == nil {
			return
		}
		frame, err := msg.Encode(msg.CmdSimLog, 0, &entry)
		if err != nil {
			return
		}
		h.clients.fanOut(job.OwnerID, frame)
		go func() {
			if err := h.archive.AppendLog(ctx, entry.JobID, entry); err != nil {
				h.logger.Error(ltsvlog.LV{L: "msg", V: "failed to archive log"},
					ltsvlog.LV{L: "job_id", V: entry.JobID},
					ltsvlog.LV{L: "err", V: err})
			}
		}()
	case msg.CmdSimTrace:
		var trace msg.SimTrace
		if err := m.DecodeData(&trace); err != nil {
			h.logWorkerMalformed(c, m, err)
			return
		}
		job := h.jobForSender(c, trace.JobID)
		if job == nil {
			return
		}
		frame, err := msg.Encode(msg.CmdSimTrace, 0, &trace)
		if err != nil {
			return
		}
		h.clients.fanOut(job.OwnerID, frame)
		go func() {
			if err := h.archive.AppendTrace(ctx, trace.JobID, trace); err != nil {
				h.logger.Error(ltsvlog.LV{L: "msg", V: "failed to archive trace"},
					ltsvlog.LV{L: "job_id", V: trace.JobID},
					ltsvlog.LV{L: "err", V: err})
			}
		}()
	case msg.CmdSimStepTrace:
		var step msg.SimStepTrace
		if err := m.DecodeData(&step); err != nil {
			h.logWorkerMalformed(c, m, err)
			return
		}
		job := h.jobForSender(c, step.JobID)
		if job == nil {
			return
		}
		frame, err := msg.Encode(msg.CmdSimStepTrace, 0, &step)
		if err != nil {
			return
		}
		h.clients.fanOut(job.OwnerID, frame)
	case msg.CmdSimSpatialStepTrace:
		var trace msg.SimSpatialStepTrace
		if err := m.DecodeData(&trace); err != nil {
			h.logWorkerMalformed(c, m, err)
			return
		}
		job := h.jobForSender(c, trace.JobID)
		if job == nil {
			return
		}
		frame, err := msg.Encode(msg.CmdSimSpatialStepTrace, 0, &trace)
		if err != nil {
			return
		}
		h.clients.fanOut(job.OwnerID, frame)
		go func() {
			if err := h.archive.AppendSpatialStepTrace(ctx, trace.JobID, trace); err != nil {
				h.logger.Error(ltsvlog.LV{L: "msg", V: "failed to archive spatial step trace"},
					ltsvlog.LV{L: "job_id", V: trace.JobID},
					ltsvlog.LV{L: "err", V: err})
			}
		}()
	case msg.CmdTmpLog, msg.CmdTmpTrace:
		h.resolvePending(c, m)
	default:
		h.logWorkerMalformed(c, m, errUnknownCommand)
	}
}

// handleWorkerStatus applies a worker-reported transition. A terminal report
// frees the worker's pool slot; a report for an unknown job only confirms
// the release of a worker whose job was cancelled optimistically. Reports
// about a job bound to another worker are ignored.
func (h *Hub) handleWorkerStatus(ctx context.Context, c *Conn, st msg.SimStatus) {
	job, ok := h.jobs[st.JobID]
	if !ok || job.Status.Terminal() {
		if st.Status.Terminal() && h.pool.boundTo(c) == st.JobID {
			h.pool.markIdle(c)
			h.tryAssign(ctx)
		}
		return
	}
	if job.boundWorker != c {
		if h.logger.DebugEnabled() {
			h.logger.Debug(ltsvlog.LV{L: "msg", V: "status report from unbound worker"},
				ltsvlog.LV{L: "job_id", V: st.JobID},
				ltsvlog.LV{L: "conn_id", V: c.id})
		}
		return
	}
	switch st.Status {
	case msg.StatusRunning:
		h.setStatus(ctx, job, msg.StatusRunning, st.Description)
	case msg.StatusFinished, msg.StatusError, msg.StatusCancelled:
		if h.pool.boundTo(c) == st.JobID {
			h.pool.markIdle(c)
		}
		job.boundWorker = nil
		h.setStatus(ctx, job, st.Status, st.Description)
		h.tryAssign(ctx)
	default:
		if h.logger.DebugEnabled() {
			h.logger.Debug(ltsvlog.LV{L: "msg", V: "ignored worker status"},
				ltsvlog.LV{L: "job_id", V: st.JobID},
				ltsvlog.LV{L: "status", V: st.Status})
		}
	}
}

// resolvePending consumes a correlated worker reply and delivers it to the
// one client that asked, translated to the client-facing reply command.
func (h *Hub) resolvePending(c *Conn, m msg.Message) {
	if m.CmdID == 0 {
		h.logWorkerMalformed(c, m, errNoCorrelationID)
		return
	}
	p, ok := h.pending[m.CmdID]
	if !ok {
		if h.logger.DebugEnabled() {
			h.logger.Debug(ltsvlog.LV{L: "msg", V: "reply for unknown correlation id"},
				ltsvlog.LV{L: "cmdid", V: m.CmdID})
		}
		return
	}
	if p.worker != c {
		if h.logger.DebugEnabled() {
			h.logger.Debug(ltsvlog.LV{L: "msg", V: "reply from a worker that was not asked"},
				ltsvlog.LV{L: "cmdid", V: m.CmdID},
				ltsvlog.LV{L: "conn_id", V: c.id})
		}
		return
	}
	delete(h.pending, m.CmdID)

	var frame []byte
	switch m.Cmd {
	case msg.CmdTmpLog:
		var tl msg.TmpLog
		if err := m.DecodeData(&tl); err != nil {
			h.replyError(p.client, p.cmdid, "malformed worker reply")
			return
		}
		for i := range tl.Entries {
			tl.Entries[i].JobID = tl.JobID
		}
		var err error
		frame, err = msg.Encode(msg.CmdLog, p.cmdid, &tl)
		if err != nil {
			return
		}
	case msg.CmdTmpTrace:
		var tt msg.TmpTrace
		if err := m.DecodeData(&tt); err != nil {
			h.replyError(p.client, p.cmdid, "malformed worker reply")
			return
		}
		tt.Trace.JobID = tt.JobID
		var err error
		frame, err = msg.Encode(msg.CmdSimTrace, p.cmdid, &tt.Trace)
		if err != nil {
			return
		}
	}
	h.clients.send(p.client, frame)
}

func (h *Hub) archiveGetLog(ctx context.Context, c *Conn, cmdid uint64, jobID string) {
	go func() {
		entries, err := h.archive.GetLog(ctx, jobID)
		if err != nil {
			h.logger.Error(ltsvlog.LV{L: "msg", V: "archive get log error"},
				ltsvlog.LV{L: "job_id", V: jobID},
				ltsvlog.LV{L: "err", V: err})
			h.deliverError(ctx, c, cmdid, "failed to read archived log")
			return
		}
		frame, err := msg.Encode(msg.CmdLog, cmdid, &msg.TmpLog{JobID: jobID, Entries: entries})
		if err != nil {
			return
		}
		h.deliver(ctx, c, frame)
	}()
}

// archiveGetTraces streams every archived trace of the job as a simTrace
// frame carrying the originating correlation id.
func (h *Hub) archiveGetTraces(ctx context.Context, c *Conn, cmdid uint64, jobID string) {
	go func() {
		traces, err := h.archive.GetTraces(ctx, jobID)
		if err != nil {
			h.logger.Error(ltsvlog.LV{L: "msg", V: "archive get traces error"},
				ltsvlog.LV{L: "job_id", V: jobID},
				ltsvlog.LV{L: "err", V: err})
			h.deliverError(ctx, c, cmdid, "failed to read archived trace")
			return
		}
		for i := range traces {
			traces[i].JobID = jobID
			frame, err := msg.Encode(msg.CmdSimTrace, cmdid, &traces[i])
			if err != nil {
				continue
			}
			h.deliver(ctx, c, frame)
		}
	}()
}

func (h *Hub) archiveGetSpatialStepTrace(ctx context.Context, c *Conn, cmdid uint64, req msg.GetSpatialStepTrace) {
	go func() {
		trace, err := h.archive.GetSpatialStepTrace(ctx, req.JobID, req.StepIdx)
		if err != nil {
			h.logger.Error(ltsvlog.LV{L: "msg", V: "archive get spatial step trace error"},
				ltsvlog.LV{L: "job_id", V: req.JobID},
				ltsvlog.LV{L: "err", V: err})
			h.deliverError(ctx, c, cmdid, "failed to read archived spatial step trace")
			return
		}
		var frame []byte
		if trace == nil {
			frame, err = msg.Encode(msg.CmdSpatialStepTrace, cmdid, nil)
		} else {
			frame, err = msg.Encode(msg.CmdSpatialStepTrace, cmdid, trace)
		}
		if err != nil {
			return
		}
		h.deliver(ctx, c, frame)
	}()
}

func (h *Hub) archiveGetLastSpatialStepTraceIdx(ctx context.Context, c *Conn, cmdid uint64, jobID string) {
	go func() {
		idx, err := h.archive.GetLastSpatialStepTraceIdx(ctx, jobID)
		if err != nil {
			h.logger.Error(ltsvlog.LV{L: "msg", V: "archive get last spatial step trace idx error"},
				ltsvlog.LV{L: "job_id", V: jobID},
				ltsvlog.LV{L: "err", V: err})
			h.deliverError(ctx, c, cmdid, "failed to read archived spatial step trace index")
			return
		}
		frame, err := msg.Encode(msg.CmdLastSpatialStepTraceIdx, cmdid, &msg.LastSpatialStepTraceIdx{JobID: jobID, Idx: idx})
		if err != nil {
			return
		}
		h.deliver(ctx, c, frame)
	}()
}

func (h *Hub) archiveGetSimulations(ctx context.Context, c *Conn, cmdid uint64, modelID string) {
	ownerID := c.ownerID
	go func() {
		recs, err := h.archive.GetSimulations(ctx, ownerID, modelID)
		if err != nil {
			h.logger.Error(ltsvlog.LV{L: "msg", V: "archive get simulations error"},
				ltsvlog.LV{L: "model_id", V: modelID},
				ltsvlog.LV{L: "err", V: err})
			h.deliverError(ctx, c, cmdid, "failed to list archived simulations")
			return
		}
		frame, err := msg.Encode(msg.CmdSimulations, cmdid, &struct {
			Simulations []SimulationRecord `json:"simulations"`
		}{Simulations: recs})
		if err != nil {
			return
		}
		h.deliver(ctx, c, frame)
	}()
}

// deliver hands a frame produced off the hub goroutine back to the hub for
// delivery, so the send buffer is only ever touched while the connection is
// known to be registered.
func (h *Hub) deliver(ctx context.Context, c *Conn, frame []byte) {
	select {
	case h.deliverC <- delivery{conn: c, frame: frame}:
	case <-ctx.Done():
	}
}

func (h *Hub) deliverError(ctx context.Context, c *Conn, cmdid uint64, message string) {
	if cmdid == 0 {
		return
	}
	frame, err := msg.Encode(msg.CmdError, cmdid, &msg.ErrorReply{Message: message})
	if err != nil {
		return
	}
	h.deliver(ctx, c, frame)
}

// malformed applies the malformed-message policy for client frames: an error
// reply when a correlation id is present, otherwise drop and log.
func (h *Hub) malformed(c *Conn, m msg.Message, err error) {
	h.logger.Error(ltsvlog.LV{L: "msg", V: "malformed client message"},
		ltsvlog.LV{L: "cmd", V: m.Cmd},
		ltsvlog.LV{L: "conn_id", V: c.id},
		ltsvlog.LV{L: "err", V: err})
	if m.CmdID != 0 {
		h.replyError(c, m.CmdID, "malformed message: "+err.Error())
	}
}

func (h *Hub) logWorkerMalformed(c *Conn, m msg.Message, err error) {
	h.logger.Error(ltsvlog.LV{L: "msg", V: "malformed worker message"},
		ltsvlog.LV{L: "cmd", V: m.Cmd},
		ltsvlog.LV{L: "conn_id", V: c.id},
		ltsvlog.LV{L: "err", V: err})
}

func (h *Hub) replyError(c *Conn, cmdid uint64, message string) {
	frame, err := msg.Encode(msg.CmdError, cmdid, &msg.ErrorReply{Message: message})
	if err != nil {
		return
	}
	h.clients.send(c, frame)
}
