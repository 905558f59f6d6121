package firewall

import (
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Gater plugs the firewall into the transport's connection upgrade path. The
// decision point is InterceptSecured: it fires once the security handshake
// has established the remote peer's identity, and before the stream muxer is
// negotiated, so no sub-protocol channel can exist on a denied connection.
type Gater struct {
	fw       *Firewall
	draining atomic.Bool
}

var _ connmgr.ConnectionGater = (*Gater)(nil)

// NewGater ...
func NewGater(fw *Firewall) *Gater {
	return &Gater{fw: fw}
}

// SetDraining makes the gater refuse all new inbound connections. It is
// flipped by the listener-tier shutdown action, once live sockets have
// drained, so no peer is admitted while the transport node is being released.
func (g *Gater) SetDraining() {
	g.draining.Store(true)
}

// InterceptPeerDial ...
func (g *Gater) InterceptPeerDial(p peer.ID) (allow bool) {
	return true
}

// InterceptAddrDial ...
func (g *Gater) InterceptAddrDial(p peer.ID, m multiaddr.Multiaddr) (allow bool) {
	return true
}

// InterceptAccept fires before the security handshake, when only the remote
// address is known. The identity check cannot happen here.
func (g *Gater) InterceptAccept(n network.ConnMultiaddrs) (allow bool) {
	return !g.draining.Load()
}

// InterceptSecured renders the firewall decision for inbound connections.
// Outbound connections are always allowed: the gateway chose to dial them.
func (g *Gater) InterceptSecured(dir network.Direction, p peer.ID, n network.ConnMultiaddrs) (allow bool) {
	if dir == network.DirOutbound {
		return true
	}
	if g.draining.Load() {
		return false
	}
	return g.fw.Allowed(p)
}

// InterceptUpgraded ...
func (g *Gater) InterceptUpgraded(c network.Conn) (allow bool, reason control.DisconnectReason) {
	return true, 0
}
