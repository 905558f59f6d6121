package journal

import (
	"bytes"
	"time"

	"github.com/ugorji/go/codec"
)

// Event types recorded by the gateway.
const (
	TypeStarted      = "started"
	TypeStopped      = "stopped"
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
	TypeSessionOpen  = "session-open"
	TypeSessionClose = "session-close"
)

// Event is a single entry in the gateway's activity journal.
type Event struct {
	Seq       int
	Time      time.Time
	Type      string
	Peer      string
	Protocol  string
	Direction string
	Detail    string
}

// Marshal returns the canonical JSON encoding of the event.
func (ev *Event) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(ev); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal parses an Event from canonical JSON.
func (ev *Event) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(ev)
}

// Journal records gateway activity. Implementations are safe for concurrent
// use.
type Journal interface {
	// Append records an event and returns its assigned sequence number.
	Append(ev Event) (int, error)

	// Recent returns up to count events, oldest first, ending with the most
	// recent one.
	Recent(count int) ([]Event, error)

	// Close releases the journal's resources.
	Close() error
}
