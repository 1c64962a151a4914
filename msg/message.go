package msg

import (
	"encoding/json"
	"errors"
)

// Message is the wire envelope used on both the client and the worker
// connection populations. CmdID is zero on pushes and on requests that do
// not expect a reply; a non-zero CmdID marks a request expecting exactly
// one reply carrying the same CmdID.
type Message struct {
	Cmd   string          `json:"cmd"`
	CmdID uint64          `json:"cmdid,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var (
	ErrEmptyCommand = errors.New("message has empty cmd")
	ErrNoData       = errors.New("message has no data")
)

// Decode parses a raw websocket frame into an envelope. On a validation
// error the partially decoded envelope is returned with it, so callers can
// still answer using its correlation id.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, err
	}
	if m.Cmd == "" {
		return m, ErrEmptyCommand
	}
	return m, nil
}

// Encode builds a frame from a command tag, an optional correlation id and
// an optional command-specific payload.
func Encode(cmd string, cmdid uint64, data interface{}) ([]byte, error) {
	m := Message{Cmd: cmd, CmdID: cmdid}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		m.Data = b
	}
	return json.Marshal(&m)
}

// DecodeData unmarshals the command-specific payload into v.
func (m Message) DecodeData(v interface{}) error {
	if len(m.Data) == 0 {
		return ErrNoData
	}
	return json.Unmarshal(m.Data, v)
}
