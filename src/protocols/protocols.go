package protocols

import (
	"io"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
)

// Sub-protocol names as they appear in configuration.
const (
	Shell    = "shell"
	Upload   = "upload"
	Download = "download"
	Tunnel   = "tunnel"
)

// Wire identifiers negotiated on the multiplexer.
const (
	ShellID    protocol.ID = "/wicket/shell/1.0.0"
	UploadID   protocol.ID = "/wicket/upload/1.0.0"
	DownloadID protocol.ID = "/wicket/download/1.0.0"
	TunnelID   protocol.ID = "/wicket/tunnel/1.0.0"
)

var ids = map[string]protocol.ID{
	Shell:    ShellID,
	Upload:   UploadID,
	Download: DownloadID,
	Tunnel:   TunnelID,
}

// Names returns the full protocol set in its canonical order.
func Names() []string {
	return []string{Shell, Upload, Download, Tunnel}
}

// ID maps a protocol name to its wire identifier.
func ID(name string) (protocol.ID, bool) {
	id, ok := ids[name]
	return id, ok
}

// Channel is a bidirectional byte channel with independent close of the write
// side. A negotiated multiplexer stream satisfies it, and so does a TCP
// connection.
type Channel interface {
	io.Reader
	io.Writer
	io.Closer

	// CloseWrite closes the write side, signalling EOF to the remote reader
	// while the read side stays usable.
	CloseWrite() error
}

// Session is what a handler is constructed with: the negotiated channel, the
// authenticated remote peer and a logger scoped to the connection.
type Session struct {
	Channel Channel
	Peer    peer.ID
	Logger  *logrus.Entry
}

// Handler is one sub-protocol session. The dispatcher constructs exactly one
// handler per successful negotiation and calls Open exactly once; it does not
// supervise the session beyond that.
type Handler interface {
	// Channel returns the session's channel, or nil if construction did not
	// produce a usable session. A nil channel tells the dispatcher to take
	// no further action for this instance.
	Channel() Channel

	// Open runs the session to completion.
	Open() error
}

// Factory constructs a handler for one negotiated session.
type Factory func(s Session) Handler

// Registry holds the sub-protocols enabled for this server run. A name never
// registered is never bound, whatever a remote peer asks for.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry ...
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{},
	}
}

// Register binds a handler factory to a protocol name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Factory returns the factory bound to name, if any.
func (r *Registry) Factory(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// RegisteredNames returns the bound names in canonical order.
func (r *Registry) RegisteredNames() []string {
	res := []string{}
	for _, name := range Names() {
		if _, ok := r.factories[name]; ok {
			res = append(res, name)
		}
	}
	return res
}

// Full reports whether every protocol of the canonical set is bound.
func (r *Registry) Full() bool {
	return len(r.factories) == len(Names())
}
