package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	"github.com/sirupsen/logrus"

	"github.com/wicketnetworks/wicket/src/firewall"
	"github.com/wicketnetworks/wicket/src/journal"
	"github.com/wicketnetworks/wicket/src/protocols"
	"github.com/wicketnetworks/wicket/src/shutdown"
	"github.com/wicketnetworks/wicket/src/transport"
)

// Node supervises the gateway's live connections. It binds the enabled
// sub-protocols on the transport, tracks every connection from the moment the
// firewall admits it until the transport reports it gone, keeps each one
// alive with periodic probes, and drives the staged teardown on shutdown.
type Node struct {
	state

	logger *logrus.Entry

	trans    *transport.Transport
	gater    *firewall.Gater
	registry *protocols.Registry
	journal  journal.Journal
	orch     *shutdown.Orchestrator

	keepAlive time.Duration
	moniker   string

	start time.Time

	connsLock sync.Mutex
	conns     map[string]*connection

	sigintCh chan os.Signal
	doneCh   chan struct{}
}

// NewNode instantiates a new Node and wires it to its subsystems. Run starts
// serving.
func NewNode(
	keepAlive time.Duration,
	moniker string,
	trans *transport.Transport,
	gater *firewall.Gater,
	registry *protocols.Registry,
	jrnl journal.Journal,
	orch *shutdown.Orchestrator,
	logger *logrus.Entry,
) *Node {
	node := &Node{
		logger:    logger.WithField("this_id", trans.ID().String()),
		trans:     trans,
		gater:     gater,
		registry:  registry,
		journal:   jrnl,
		orch:      orch,
		keepAlive: keepAlive,
		moniker:   moniker,
		conns:     map[string]*connection{},
		sigintCh:  make(chan os.Signal, 1),
		doneCh:    make(chan struct{}),
	}

	signal.Notify(node.sigintCh, os.Interrupt, syscall.SIGTERM)

	return node
}

// Run binds the enabled sub-protocols, starts watching connection events and
// signals, and blocks until the node has fully shut down.
func (n *Node) Run() {
	n.start = time.Now()

	n.trans.Host().Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			n.connected(c)
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			n.disconnected(c)
		},
	})

	n.bindProtocols()
	n.registerShutdown()

	n.setState(Running)

	n.record(journal.Event{
		Type:   journal.TypeStarted,
		Detail: strings.Join(n.registry.RegisteredNames(), " "),
	})

	n.announce()

	n.goFunc(n.watchSignals)

	<-n.doneCh
	n.waitRoutines()
}

// Shutdown drains the teardown tiers: live sockets first, then the listener,
// then the transport node. It blocks until the drain is complete and is safe
// to call more than once.
func (n *Node) Shutdown() {
	if !n.casState(Running, ShuttingDown) {
		return
	}

	n.logger.Info("Shutting down")

	n.orch.Shutdown()

	n.record(journal.Event{Type: journal.TypeStopped})

	n.setState(Shutdown)
	close(n.doneCh)
}

func (n *Node) bindProtocols() {
	for _, name := range n.registry.RegisteredNames() {
		id, ok := protocols.ID(name)
		if !ok {
			n.logger.WithField("protocol", name).Warn("Unknown protocol name")
			continue
		}

		n.trans.Host().SetStreamHandler(id, func(s network.Stream) {
			n.handleStream(name, s)
		})

		n.logger.WithField("protocol", name).Debug("Protocol bound")
	}
}

func (n *Node) registerShutdown() {
	n.orch.Register(shutdown.PriorityListener, "listener", func() {
		if n.gater != nil {
			n.gater.SetDraining()
		}
		for _, name := range n.registry.RegisteredNames() {
			if id, ok := protocols.ID(name); ok {
				n.trans.Host().RemoveStreamHandler(id)
			}
		}
		n.logger.Debug("Listener draining, new connections refused")
	})

	n.orch.Register(shutdown.PriorityNode, "transport", func() {
		if err := n.trans.Close(); err != nil {
			n.logger.WithField("error", err).Error("Closing transport")
		}
		n.logger.Debug("Transport node released")
	})
}

// announce prints the operator-facing identity lines. Peers dial the printed
// identity, not an address.
func (n *Node) announce() {
	id := n.trans.ID().String()

	fmt.Printf("Gateway identity: %s\n", id)
	if n.registry.Full() {
		fmt.Printf("Connect with: wicket connect %s\n", id)
	} else {
		fmt.Printf("Restricted mode, enabled protocols: %s\n",
			strings.Join(n.registry.RegisteredNames(), " "))
	}

	for _, addr := range n.trans.AddrStrings() {
		n.logger.WithField("addr", addr).Info("Listening")
	}
}

func (n *Node) watchSignals() {
	select {
	case <-n.sigintCh:
		n.logger.Debug("Interrupt signal")
		n.Shutdown()
	case <-n.doneCh:
	}
}

func (n *Node) connected(c network.Conn) {
	n.ensureConn(c)
}

// ensureConn returns the record for a connection, creating and wiring it the
// first time. Stream dispatch can race the connected notification, so both
// paths go through here.
func (n *Node) ensureConn(c network.Conn) *connection {
	n.connsLock.Lock()
	if conn, ok := n.conns[c.ID()]; ok {
		n.connsLock.Unlock()
		return conn
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		id:        c.ID(),
		peer:      c.RemotePeer(),
		conn:      c,
		direction: direction(c),
		opened:    time.Now(),
		cancel:    cancel,
		closedCh:  make(chan struct{}),
		sessions:  map[string]int{},
	}
	n.conns[c.ID()] = conn
	n.connsLock.Unlock()

	n.logger.WithFields(logrus.Fields{
		"peer":      conn.peer.String(),
		"direction": conn.direction,
	}).Info("Connection opened")

	n.record(journal.Event{
		Type:      journal.TypeConnected,
		Peer:      conn.peer.String(),
		Direction: conn.direction,
	})

	// socket tier: ask the connection to end, then wait for the transport to
	// confirm full termination
	reg := n.orch.Register(shutdown.PrioritySocket, "socket "+conn.peer.String(), func() {
		c.Close()
		<-conn.closedCh
	})

	conn.mu.Lock()
	conn.reg = reg
	dead := conn.dead
	conn.mu.Unlock()

	// the connection dropped before the registration was in place
	if dead {
		reg.Cancel()
	}

	n.goFunc(func() { n.keepalive(ctx, conn) })

	return conn
}

func (n *Node) disconnected(c network.Conn) {
	n.connsLock.Lock()
	conn, ok := n.conns[c.ID()]
	if ok {
		delete(n.conns, c.ID())
	}
	n.connsLock.Unlock()

	if !ok {
		return
	}

	conn.cancel()

	conn.mu.Lock()
	conn.dead = true
	reg := conn.reg
	conn.mu.Unlock()

	// a natural close leaves no shutdown action behind; during a drain the
	// cancel is a no-op and closing closedCh releases the waiting action
	if reg != nil {
		reg.Cancel()
	}
	close(conn.closedCh)

	n.logger.WithFields(logrus.Fields{
		"peer":      conn.peer.String(),
		"direction": conn.direction,
		"duration":  time.Since(conn.opened).String(),
	}).Info("Connection closed")

	n.record(journal.Event{
		Type:      journal.TypeDisconnected,
		Peer:      conn.peer.String(),
		Direction: conn.direction,
	})
}

// keepalive probes the peer on a fixed interval so a dead peer is detected
// and reclaimed rather than hanging indefinitely. A failed probe closes the
// connection.
func (n *Node) keepalive(ctx context.Context, conn *connection) {
	ticker := time.NewTicker(n.keepAlive)
	defer ticker.Stop()

	logger := n.logger.WithField("peer", conn.peer.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, n.keepAlive)
			res, ok := <-ping.Ping(pctx, n.trans.Host(), conn.peer)

			if !ok || res.Error != nil {
				err := res.Error
				if err == nil {
					err = pctx.Err()
				}
				pcancel()
				if ctx.Err() != nil {
					return
				}
				logger.WithField("error", err).Debug("Keepalive probe failed, closing connection")
				conn.conn.Close()
				return
			}

			pcancel()
			logger.WithField("rtt", res.RTT.String()).Debug("Keepalive")
		}
	}
}

func (n *Node) handleStream(name string, s network.Stream) {
	logger := n.logger.WithFields(logrus.Fields{
		"peer":     s.Conn().RemotePeer().String(),
		"protocol": name,
	})

	factory, ok := n.registry.Factory(name)
	if !ok {
		logger.Warn("Stream for unbound protocol")
		s.Reset()
		return
	}

	conn := n.ensureConn(s.Conn())

	handler := factory(protocols.Session{
		Channel: s,
		Peer:    conn.peer,
		Logger:  logger,
	})

	// no channel means negotiation produced no usable session
	if handler.Channel() == nil {
		logger.Warn("Protocol session not ready")
		s.Reset()
		return
	}

	conn.addSession(name)
	logger.Debug("Protocol session open")
	n.record(journal.Event{
		Type:      journal.TypeSessionOpen,
		Peer:      conn.peer.String(),
		Protocol:  name,
		Direction: conn.direction,
	})

	n.goFunc(func() {
		defer func() {
			conn.removeSession(name)
			logger.Debug("Protocol session closed")
			n.record(journal.Event{
				Type:      journal.TypeSessionClose,
				Peer:      conn.peer.String(),
				Protocol:  name,
				Direction: conn.direction,
			})
		}()

		if err := handler.Open(); err != nil {
			n.classify(logger, err)
		}
	})
}

// expectedError reports whether err is ordinary connection noise: resets,
// timeouts and closed sockets that simply end a session.
func expectedError(err error) bool {
	if err == nil {
		return true
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, network.ErrReset) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	return false
}

// classify logs a session error: expected network noise is suppressed to
// debug, anything else surfaces as an operational error. Either way the
// error stays confined to its connection.
func (n *Node) classify(logger *logrus.Entry, err error) {
	if expectedError(err) {
		logger.WithField("error", err).Debug("Session ended")
		return
	}
	logger.WithField("error", err).Error("Session error")
}

func (n *Node) record(ev journal.Event) {
	ev.Time = time.Now().UTC()
	if _, err := n.journal.Append(ev); err != nil {
		n.logger.WithField("error", err).Warn("Journal append failed")
	}
}

// ID returns the node's public identity.
func (n *Node) ID() peer.ID {
	return n.trans.ID()
}

// Moniker returns the node's friendly name.
func (n *Node) Moniker() string {
	return n.moniker
}

// GetStats returns the operational counters reported by the stats API.
func (n *Node) GetStats() map[string]string {
	n.connsLock.Lock()
	connCount := len(n.conns)
	sessionCount := 0
	for _, c := range n.conns {
		sessionCount += len(c.activeSessions())
	}
	n.connsLock.Unlock()

	return map[string]string{
		"id":          n.trans.ID().String(),
		"moniker":     n.moniker,
		"state":       n.getState().String(),
		"uptime":      time.Since(n.start).String(),
		"connections": strconv.Itoa(connCount),
		"sessions":    strconv.Itoa(sessionCount),
		"protocols":   strings.Join(n.registry.RegisteredNames(), ","),
	}
}

// Connections returns a snapshot of the live connections, oldest first.
func (n *Node) Connections() []ConnInfo {
	n.connsLock.Lock()
	defer n.connsLock.Unlock()

	res := make([]ConnInfo, 0, len(n.conns))
	for _, c := range n.conns {
		res = append(res, ConnInfo{
			Peer:      c.peer.String(),
			Direction: c.direction,
			Opened:    c.opened,
			Protocols: c.activeSessions(),
		})
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Opened.Before(res[j].Opened)
	})

	return res
}

// Addrs returns the node's dialable addresses.
func (n *Node) Addrs() []string {
	return n.trans.AddrStrings()
}
