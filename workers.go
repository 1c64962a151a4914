package simbroker

// workerPool tracks live worker connections. Each worker is either idle or
// bound to exactly one running job. The pool is owned by the hub goroutine;
// all methods must be called from Hub.Run.
type workerPool struct {
	// workers maps a worker connection to the id of its bound job, or ""
	// while idle.
	workers map[*Conn]string
}

func newWorkerPool() *workerPool {
	return &workerPool{workers: make(map[*Conn]string)}
}

func (p *workerPool) register(c *Conn) {
	p.workers[c] = ""
}

// release removes a worker from the pool entirely and returns the id of the
// job it was bound to, if any. It reports false when the worker was already
// removed.
func (p *workerPool) release(c *Conn) (jobID string, ok bool) {
	jobID, ok = p.workers[c]
	if ok {
		delete(p.workers, c)
	}
	return jobID, ok
}

// pickIdle returns an idle worker bound to jobID as part of the same
// operation, or nil when every worker is busy. Binding atomically here keeps
// two assignment attempts from picking the same worker.
func (p *workerPool) pickIdle(jobID string) *Conn {
	for c, bound := range p.workers {
		if bound == "" {
			p.workers[c] = jobID
			return c
		}
	}
	return nil
}

// markIdle returns a bound worker to the idle state after its job reached a
// terminal status.
func (p *workerPool) markIdle(c *Conn) bool {
	if _, ok := p.workers[c]; !ok {
		return false
	}
	p.workers[c] = ""
	return true
}

// boundTo returns the job id a worker is bound to, or "" when idle or
// unknown.
func (p *workerPool) boundTo(c *Conn) string {
	return p.workers[c]
}

func (p *workerPool) idleCount() int {
	n := 0
	for _, bound := range p.workers {
		if bound == "" {
			n++
		}
	}
	return n
}

func (p *workerPool) closeAll() {
	for c := range p.workers {
		close(c.sendC)
		delete(p.workers, c)
	}
}
