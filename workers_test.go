package simbroker

import "testing"

func poolConn(id string) *Conn {
	return &Conn{sendC: make(chan []byte, 1), id: id}
}

func TestPickIdleBindsAtomically(t *testing.T) {
	p := newWorkerPool()
	w1 := poolConn("w1")
	w2 := poolConn("w2")
	p.register(w1)
	p.register(w2)

	first := p.pickIdle("job-1")
	second := p.pickIdle("job-2")
	if first == nil || second == nil {
		t.Fatal("expected two idle workers")
	}
	if first == second {
		t.Fatal("same worker bound to two jobs")
	}
	if p.pickIdle("job-3") != nil {
		t.Fatal("pickIdle returned a bound worker")
	}
}

func TestPickIdleAfterMarkIdle(t *testing.T) {
	p := newWorkerPool()
	w := poolConn("w1")
	p.register(w)

	if got := p.pickIdle("job-1"); got != w {
		t.Fatalf("unexpected worker. got=%v, want=%v", got, w)
	}
	if p.boundTo(w) != "job-1" {
		t.Errorf("unexpected binding. got=%s, want=job-1", p.boundTo(w))
	}
	if !p.markIdle(w) {
		t.Fatal("markIdle failed for a pooled worker")
	}
	if got := p.pickIdle("job-2"); got != w {
		t.Fatalf("released worker not picked again. got=%v", got)
	}
}

func TestReleaseRemovesWorkerEntirely(t *testing.T) {
	p := newWorkerPool()
	w := poolConn("w1")
	p.register(w)
	p.pickIdle("job-1")

	jobID, ok := p.release(w)
	if !ok {
		t.Fatal("release failed for a pooled worker")
	}
	if jobID != "job-1" {
		t.Errorf("unexpected bound job. got=%s, want=job-1", jobID)
	}
	if p.pickIdle("job-2") != nil {
		t.Fatal("released worker still picked")
	}
	if _, ok := p.release(w); ok {
		t.Fatal("second release reported a live worker")
	}
	if p.markIdle(w) {
		t.Fatal("markIdle succeeded for a released worker")
	}
}

func TestIdleCount(t *testing.T) {
	p := newWorkerPool()
	if p.idleCount() != 0 {
		t.Fatalf("unexpected idle count. got=%d, want=0", p.idleCount())
	}
	w1 := poolConn("w1")
	w2 := poolConn("w2")
	p.register(w1)
	p.register(w2)
	if p.idleCount() != 2 {
		t.Fatalf("unexpected idle count. got=%d, want=2", p.idleCount())
	}
	p.pickIdle("job-1")
	if p.idleCount() != 1 {
		t.Fatalf("unexpected idle count. got=%d, want=1", p.idleCount())
	}
}
