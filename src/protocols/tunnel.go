package protocols

import (
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// TunnelHandler bridges the channel to a local TCP connection. The peer names
// a target, the policy decides whether the gateway may dial it, and from then
// on bytes flow both ways until either side is done.
type TunnelHandler struct {
	session Session
	policy  TunnelPolicy
}

// NewTunnelHandler returns a factory with the host/port restriction policy
// bound in.
func NewTunnelHandler(policy TunnelPolicy) Factory {
	return func(s Session) Handler {
		return &TunnelHandler{session: s, policy: policy}
	}
}

// Channel implements the Handler interface.
func (h *TunnelHandler) Channel() Channel {
	return h.session.Channel
}

// Open implements the Handler interface.
func (h *TunnelHandler) Open() error {
	ch := h.session.Channel
	defer ch.Close()

	req := TunnelRequest{}
	if err := ReadFrame(ch, &req); err != nil {
		return err
	}

	logger := h.session.Logger.WithFields(logrus.Fields{
		"host": req.Host,
		"port": req.Port,
	})

	if !h.policy.Allow(req.Host, req.Port) {
		logger.Warn("Tunnel target refused")
		WriteFrame(ch, TransferStatus{Error: "target not allowed"})
		return nil
	}

	target, err := net.Dial("tcp", net.JoinHostPort(req.Host, strconv.Itoa(req.Port)))
	if err != nil {
		logger.WithField("error", err).Warn("Tunnel dial failed")
		WriteFrame(ch, TransferStatus{Error: err.Error()})
		return nil
	}

	if err := WriteFrame(ch, TransferStatus{OK: true}); err != nil {
		target.Close()
		return err
	}

	logger.Debug("Tunnel open")

	Bridge(ch, target.(*net.TCPConn))

	logger.Debug("Tunnel closed")

	return nil
}

// Bridge copies both directions between two channels, mirroring half-closes:
// when one side stops sending, the other side's write end is closed so its
// reader sees EOF, while traffic keeps flowing the other way. It returns when
// both directions are done.
func Bridge(a, b Channel) {
	var wg sync.WaitGroup
	wg.Add(2)

	pump := func(dst, src Channel) {
		defer wg.Done()
		io.Copy(dst, src)
		dst.CloseWrite()
	}

	go pump(b, a)
	go pump(a, b)

	wg.Wait()
}
