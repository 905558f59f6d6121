package node

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wicketnetworks/wicket/src/shutdown"
)

// connection is the node's record of one live transport connection.
type connection struct {
	id        string
	peer      peer.ID
	conn      network.Conn
	direction string
	opened    time.Time

	// cancel stops the keepalive loop
	cancel context.CancelFunc

	// closed when the transport reports the connection fully terminated
	closedCh chan struct{}

	mu sync.Mutex

	// socket-tier shutdown action; cancelled when the connection closes on
	// its own
	reg *shutdown.Registration

	// the transport reported the connection gone
	dead bool

	sessions map[string]int
}

func direction(c network.Conn) string {
	if c.Stat().Direction == network.DirInbound {
		return "inbound"
	}
	return "outbound"
}

func (c *connection) addSession(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[name]++
}

func (c *connection) removeSession(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[name]--
	if c.sessions[name] <= 0 {
		delete(c.sessions, name)
	}
}

func (c *connection) activeSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := make([]string, 0, len(c.sessions))
	for name := range c.sessions {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// ConnInfo is one live connection as reported by the stats API.
type ConnInfo struct {
	Peer      string
	Direction string
	Opened    time.Time
	Protocols []string
}
