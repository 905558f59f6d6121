package transport

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

// Config groups the transport options.
type Config struct {
	// ListenAddrs are the multiaddresses the node listens on.
	ListenAddrs []string

	// BootstrapPeers are the multiaddresses of the overlay's entry points.
	// When empty, the overlay's public defaults are used.
	BootstrapPeers []string

	// TestNet confines the node to the loopback interface and skips the
	// overlay entirely.
	TestNet bool
}

// Transport is the node's way onto the overlay network. It owns the libp2p
// host, which carries the node's identity and encrypts every connection, and
// the DHT through which other nodes find it.
type Transport struct {
	host   host.Host
	dht    *dht.IpfsDHT
	logger *logrus.Entry
}

// New starts a libp2p host listening under the given identity and, outside
// test mode, joins the overlay's DHT so the node can be found by its public
// key. The gater, when not nil, screens every connection before it is
// admitted.
func New(ctx context.Context, priv crypto.PrivKey, conf Config, gater connmgr.ConnectionGater, logger *logrus.Entry) (*Transport, error) {
	listen := conf.ListenAddrs
	if conf.TestNet {
		listen = []string{"/ip4/127.0.0.1/tcp/0"}
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listen...),
	}
	if gater != nil {
		opts = append(opts, libp2p.ConnectionGater(gater))
	}
	if !conf.TestNet {
		opts = append(opts, libp2p.NATPortMap())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("starting host: %v", err)
	}

	t := &Transport{
		host:   h,
		logger: logger,
	}

	if !conf.TestNet {
		if err := t.joinOverlay(ctx, conf.BootstrapPeers); err != nil {
			h.Close()
			return nil, err
		}
	}

	t.logger.WithFields(logrus.Fields{
		"id":      h.ID().String(),
		"listen":  listen,
		"testnet": conf.TestNet,
	}).Debug("Transport started")

	return t, nil
}

func (t *Transport) joinOverlay(ctx context.Context, bootstrap []string) error {
	peers, err := bootstrapPeers(bootstrap)
	if err != nil {
		return err
	}

	d, err := dht.New(ctx, t.host,
		dht.Mode(dht.ModeServer),
		dht.BootstrapPeers(peers...),
	)
	if err != nil {
		return fmt.Errorf("starting DHT: %v", err)
	}

	if err := d.Bootstrap(ctx); err != nil {
		d.Close()
		return fmt.Errorf("bootstrapping DHT: %v", err)
	}

	t.dht = d

	return nil
}

func bootstrapPeers(addrs []string) ([]peer.AddrInfo, error) {
	if len(addrs) == 0 {
		return dht.GetDefaultBootstrapPeerAddrInfos(), nil
	}

	maddrs := make([]multiaddr.Multiaddr, len(addrs))
	for i, a := range addrs {
		m, err := multiaddr.NewMultiaddr(a)
		if err != nil {
			return nil, fmt.Errorf("bootstrap address %q: %v", a, err)
		}
		maddrs[i] = m
	}

	return peer.AddrInfosFromP2pAddrs(maddrs...)
}

// ID returns the node's peer ID, the base58 encoding of its public key.
func (t *Transport) ID() peer.ID {
	return t.host.ID()
}

// Host returns the underlying libp2p host.
func (t *Transport) Host() host.Host {
	return t.host
}

// Addrs returns the node's full dialable addresses, each ending in the
// node's /p2p component.
func (t *Transport) Addrs() []multiaddr.Multiaddr {
	p2p := multiaddr.StringCast("/p2p/" + t.host.ID().String())

	res := make([]multiaddr.Multiaddr, len(t.host.Addrs()))
	for i, a := range t.host.Addrs() {
		res[i] = a.Encapsulate(p2p)
	}
	return res
}

// AddrStrings ...
func (t *Transport) AddrStrings() []string {
	addrs := t.Addrs()
	res := make([]string, len(addrs))
	for i, a := range addrs {
		res[i] = a.String()
	}
	return res
}

// Connect establishes a connection to a peer known only by ID, resolving its
// addresses through the DHT when they are not already known.
func (t *Transport) Connect(ctx context.Context, p peer.ID) error {
	if t.host.Network().Connectedness(p) == network.Connected {
		return nil
	}

	if err := t.host.Connect(ctx, peer.AddrInfo{ID: p}); err == nil {
		return nil
	}

	if t.dht == nil {
		return fmt.Errorf("no known addresses for %s", p)
	}

	info, err := t.dht.FindPeer(ctx, p)
	if err != nil {
		return fmt.Errorf("finding %s: %v", p, err)
	}

	return t.host.Connect(ctx, info)
}

// ConnectAddr establishes a connection to a peer from a full multiaddress
// carrying its /p2p component.
func (t *Transport) ConnectAddr(ctx context.Context, addr string) (peer.ID, error) {
	m, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("address %q: %v", addr, err)
	}

	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return "", fmt.Errorf("address %q: %v", addr, err)
	}

	if err := t.host.Connect(ctx, *info); err != nil {
		return "", err
	}

	return info.ID, nil
}

// Close tears the node down: the DHT first, then the host, which closes
// every listener and live connection.
func (t *Transport) Close() error {
	var dhtErr error
	if t.dht != nil {
		dhtErr = t.dht.Close()
	}

	if err := t.host.Close(); err != nil {
		return err
	}

	return dhtErr
}
