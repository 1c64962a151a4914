package simbroker

// clientRegistry maps a user identity to the set of live client connections
// subscribed to that user's activity. It is owned by the hub goroutine; all
// methods must be called from Hub.Run.
type clientRegistry struct {
	conns map[string]map[*Conn]bool
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{conns: make(map[string]map[*Conn]bool)}
}

func (r *clientRegistry) register(c *Conn) {
	set, ok := r.conns[c.ownerID]
	if !ok {
		set = make(map[*Conn]bool)
		r.conns[c.ownerID] = set
	}
	set[c] = true
}

// unregister removes c from its owner's set and reports whether it was still
// registered. The last connection of an owner removes the set.
func (r *clientRegistry) unregister(c *Conn) bool {
	set, ok := r.conns[c.ownerID]
	if !ok || !set[c] {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, c.ownerID)
	}
	return true
}

func (r *clientRegistry) contains(c *Conn) bool {
	return r.conns[c.ownerID][c]
}

// fanOut delivers a frame to every connection of an owner, best effort. A
// connection whose send buffer is closed or full is dropped from the
// registry instead of erroring the caller.
func (r *clientRegistry) fanOut(ownerID string, frame []byte) {
	for c := range r.conns[ownerID] {
		select {
		case c.sendC <- frame:
		default:
			r.drop(c)
		}
	}
}

// send delivers a frame to a single connection if it is still registered.
func (r *clientRegistry) send(c *Conn, frame []byte) {
	if !r.contains(c) {
		return
	}
	select {
	case c.sendC <- frame:
	default:
		r.drop(c)
	}
}

func (r *clientRegistry) drop(c *Conn) {
	if r.unregister(c) {
		close(c.sendC)
	}
}

func (r *clientRegistry) closeAll() {
	for _, set := range r.conns {
		for c := range set {
			close(c.sendC)
		}
	}
	r.conns = make(map[string]map[*Conn]bool)
}
