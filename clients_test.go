package simbroker

import "testing"

func clientConn(id, ownerID string, buf int) *Conn {
	return &Conn{sendC: make(chan []byte, buf), id: id, ownerID: ownerID}
}

func TestFanOutReachesEveryConnectionOfOwner(t *testing.T) {
	r := newClientRegistry()
	c1 := clientConn("c1", "u1", 4)
	c2 := clientConn("c2", "u1", 4)
	other := clientConn("c3", "u2", 4)
	r.register(c1)
	r.register(c2)
	r.register(other)

	r.fanOut("u1", []byte("hello"))

	for _, c := range []*Conn{c1, c2} {
		select {
		case frame := <-c.sendC:
			if string(frame) != "hello" {
				t.Errorf("unexpected frame: %s", frame)
			}
		default:
			t.Errorf("connection %s missed the fan-out", c.id)
		}
	}
	select {
	case frame := <-other.sendC:
		t.Errorf("connection of another owner received %s", frame)
	default:
	}
}

func TestFanOutDropsStalledConnection(t *testing.T) {
	r := newClientRegistry()
	stalled := clientConn("c1", "u1", 0)
	healthy := clientConn("c2", "u1", 4)
	r.register(stalled)
	r.register(healthy)

	r.fanOut("u1", []byte("hello"))

	if r.contains(stalled) {
		t.Error("stalled connection still registered")
	}
	if !r.contains(healthy) {
		t.Error("healthy connection dropped")
	}
	if _, ok := <-stalled.sendC; ok {
		t.Error("stalled connection's send channel not closed")
	}
}

func TestUnregisterLastConnectionRemovesOwnerSet(t *testing.T) {
	r := newClientRegistry()
	c1 := clientConn("c1", "u1", 1)
	c2 := clientConn("c2", "u1", 1)
	r.register(c1)
	r.register(c2)

	if !r.unregister(c1) {
		t.Fatal("unregister failed for a registered connection")
	}
	if !r.contains(c2) {
		t.Fatal("sibling connection affected by unregister")
	}
	if !r.unregister(c2) {
		t.Fatal("unregister failed for the last connection")
	}
	if _, ok := r.conns["u1"]; ok {
		t.Error("owner set not removed after last unregister")
	}
	if r.unregister(c2) {
		t.Error("second unregister reported a registered connection")
	}
}

func TestSendSkipsUnregisteredConnection(t *testing.T) {
	r := newClientRegistry()
	c := clientConn("c1", "u1", 1)
	r.send(c, []byte("hello"))
	select {
	case frame := <-c.sendC:
		t.Errorf("unregistered connection received %s", frame)
	default:
	}
}
