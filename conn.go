package simbroker

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hnakamur/ltsvlog"

	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/msg"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Spatial step traces can be
	// large.
	maxMessageSize = 100 * 1024 * 1024

	// Length of the buffered channel of outbound messages per connection.
	sendChannelLength = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are browsers served from a different origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Conn is a middleman between one websocket connection and the hub. The same
// type serves both connection populations; ownerID is set on client
// connections only.
type Conn struct {
	hub *Hub

	ws *websocket.Conn

	// Buffered channel of outbound frames, closed by the hub.
	sendC chan []byte

	// Connection-scoped identifier.
	id string

	// Identity of the subscribed user; empty on worker connections.
	ownerID string
}

// clientReadPump pumps frames from a client websocket to the hub. A
// malformed frame never terminates the connection: it is dropped when it
// carries no correlation id and handed to the hub for an error reply when it
// does.
func (c *Conn) clientReadPump() {
	defer func() {
		select {
		case c.hub.unregisterClientC <- c:
		case <-c.hub.doneC:
		}
		c.ws.Close()
	}()
	c.setupRead()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.hub.logger.Debug(ltsvlog.LV{L: "msg", V: "client read error"},
				ltsvlog.LV{L: "conn_id", V: c.id},
				ltsvlog.LV{L: "err", V: err})
			return
		}
		m, err := msg.Decode(raw)
		if err != nil && m.CmdID == 0 {
			c.hub.logger.Error(ltsvlog.LV{L: "msg", V: "malformed client frame"},
				ltsvlog.LV{L: "conn_id", V: c.id},
				ltsvlog.LV{L: "err", V: err})
			continue
		}
		select {
		case c.hub.clientFrameC <- connFrame{conn: c, msg: m}:
		case <-c.hub.doneC:
			return
		}
	}
}

// workerReadPump pumps frames from a worker websocket to the hub.
func (c *Conn) workerReadPump() {
	defer func() {
		select {
		case c.hub.unregisterWorkerC <- c:
		case <-c.hub.doneC:
		}
		c.ws.Close()
	}()
	c.setupRead()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.hub.logger.Debug(ltsvlog.LV{L: "msg", V: "worker read error"},
				ltsvlog.LV{L: "conn_id", V: c.id},
				ltsvlog.LV{L: "err", V: err})
			return
		}
		m, err := msg.Decode(raw)
		if err != nil {
			c.hub.logger.Error(ltsvlog.LV{L: "msg", V: "malformed worker frame"},
				ltsvlog.LV{L: "conn_id", V: c.id},
				ltsvlog.LV{L: "err", V: err})
			continue
		}
		select {
		case c.hub.workerFrameC <- connFrame{conn: c, msg: m}:
		case <-c.hub.doneC:
			return
		}
	}
}

func (c *Conn) setupRead() {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })
}

// write writes a message with the given message type and payload.
func (c *Conn) write(mt int, payload []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(mt, payload)
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case frame, ok := <-c.sendC:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// ServeClientWS handles a client websocket request. Connections without a
// userId query parameter are rejected.
func (h *Hub) ServeClientWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId query param required", http.StatusBadRequest)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(ltsvlog.LV{L: "msg", V: "failed to upgrade client connection"},
			ltsvlog.LV{L: "err", V: err})
		return
	}
	conn := &Conn{
		hub:     h,
		ws:      ws,
		sendC:   make(chan []byte, sendChannelLength),
		id:      uuid.NewString(),
		ownerID: userID,
	}
	select {
	case h.registerClientC <- conn:
	case <-h.doneC:
		ws.Close()
		return
	}
	go conn.writePump()
	conn.clientReadPump()
}

// ServeWorkerWS handles a worker websocket request. Workers carry no
// identity; the broker assigns a connection-scoped id.
func (h *Hub) ServeWorkerWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(ltsvlog.LV{L: "msg", V: "failed to upgrade worker connection"},
			ltsvlog.LV{L: "err", V: err})
		return
	}
	conn := &Conn{
		hub:   h,
		ws:    ws,
		sendC: make(chan []byte, sendChannelLength),
		id:    uuid.NewString(),
	}
	select {
	case h.registerWorkerC <- conn:
	case <-h.doneC:
		ws.Close()
		return
	}
	go conn.writePump()
	conn.workerReadPump()
}

// ServeHealth is the liveness probe endpoint.
func ServeHealth(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "ok")
}
