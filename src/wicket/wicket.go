package wicket

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/wicketnetworks/wicket/src/config"
	"github.com/wicketnetworks/wicket/src/firewall"
	"github.com/wicketnetworks/wicket/src/journal"
	"github.com/wicketnetworks/wicket/src/keys"
	"github.com/wicketnetworks/wicket/src/node"
	"github.com/wicketnetworks/wicket/src/protocols"
	"github.com/wicketnetworks/wicket/src/service"
	"github.com/wicketnetworks/wicket/src/shutdown"
	"github.com/wicketnetworks/wicket/src/transport"
)

// Wicket is the top-level gateway engine. It assembles an identity, a
// firewall, an overlay transport, a journal, a node and an API service from a
// single Config.
type Wicket struct {
	Config    *config.Config
	Identity  keys.Identity
	Firewall  *firewall.Firewall
	Transport *transport.Transport
	Journal   journal.Journal
	Node      *node.Node
	Service   *service.Service

	gater *firewall.Gater
}

// NewWicket instantiates an engine from a config. Init assembles it.
func NewWicket(config *config.Config) *Wicket {
	engine := &Wicket{
		Config: config,
	}

	return engine
}

func (w *Wicket) initIdentity() error {
	identity, err := keys.EnsureIdentity(w.Config.KeyfilePath())

	if err != nil {
		return err
	}

	w.Identity = identity

	w.Config.Logger().WithField("id", identity.PublicString()).Debug("Loaded identity")

	return nil
}

func (w *Wicket) initFirewall() error {
	fw, err := firewall.New(w.Config.PeersFilePath(), w.Config.NoFirewall, w.Config.Logger())

	if err != nil {
		return err
	}

	w.Firewall = fw
	w.gater = firewall.NewGater(fw)

	return nil
}

func (w *Wicket) initTransport() error {
	trans, err := transport.New(
		context.Background(),
		w.Identity.PrivKey,
		transport.Config{
			ListenAddrs:    w.Config.ListenAddrs,
			BootstrapPeers: w.Config.BootstrapPeers,
			TestNet:        w.Config.TestNet,
		},
		w.gater,
		w.Config.Logger(),
	)

	if err != nil {
		return err
	}

	w.Transport = trans

	return nil
}

func (w *Wicket) initJournal() error {
	if !w.Config.Store {
		w.Journal = journal.NewInmemJournal(w.Config.CacheSize)

		w.Config.Logger().Debug("created new in-mem journal")
	} else {
		w.Config.Logger().WithField("path", w.Config.DatabaseDir).Debug("Attempting to load or create journal database")

		jrnl, err := journal.NewBadgerJournal(w.Config.CacheSize, w.Config.DatabaseDir)

		if err != nil {
			return err
		}

		w.Journal = jrnl
	}

	return nil
}

func (w *Wicket) initNode() error {
	registry := protocols.NewRegistry()

	for _, name := range w.Config.Protocols {
		switch name {
		case protocols.Shell:
			registry.Register(name, protocols.NewShellHandler)
		case protocols.Upload:
			registry.Register(name, protocols.NewUploadHandler)
		case protocols.Download:
			registry.Register(name, protocols.NewDownloadHandler)
		case protocols.Tunnel:
			registry.Register(name, protocols.NewTunnelHandler(protocols.TunnelPolicy{
				Hosts: w.Config.TunnelHosts,
				Ports: w.Config.TunnelPorts,
			}))
		default:
			return fmt.Errorf("unknown protocol %s in enabled list", name)
		}
	}

	w.Config.Logger().WithFields(logrus.Fields{
		"protocols": registry.RegisteredNames(),
		"id":        w.Transport.ID().String(),
	}).Debug("PROTOCOLS")

	w.Node = node.NewNode(
		w.Config.KeepAlive,
		w.Config.Moniker,
		w.Transport,
		w.gater,
		registry,
		w.Journal,
		shutdown.New(w.Config.Logger()),
		w.Config.Logger(),
	)

	return nil
}

func (w *Wicket) initService() error {
	if !w.Config.NoService {
		w.Service = service.NewService(w.Config.ServiceAddr, w.Node, w.Firewall, w.Journal, w.Config.Logger())
	}
	return nil
}

// Init initialises the wicket engine
func (w *Wicket) Init() error {
	if err := w.initIdentity(); err != nil {
		return err
	}

	if err := w.initFirewall(); err != nil {
		return err
	}

	if err := w.initTransport(); err != nil {
		return err
	}

	if err := w.initJournal(); err != nil {
		return err
	}

	if err := w.initNode(); err != nil {
		return err
	}

	if err := w.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the API service in the background when one is configured, then
// runs the node until it has fully shut down. The journal and the firewall
// watcher are released on the way out.
func (w *Wicket) Run() {
	if w.Service != nil {
		go w.Service.Serve()
	}

	w.Node.Run()

	if err := w.Journal.Close(); err != nil {
		w.Config.Logger().WithError(err).Error("Closing journal")
	}

	if err := w.Firewall.Close(); err != nil {
		w.Config.Logger().WithError(err).Error("Closing firewall")
	}
}

// Keygen generates a new identity seed in keyfile and returns the
// corresponding identity. It refuses to overwrite an existing seed because
// that would silently retire the public identity peers have on their
// allow-lists.
func Keygen(keyfile string) (keys.Identity, error) {
	seedFile := keys.NewSeedFile(keyfile)

	if _, err := seedFile.ReadSeed(); err == nil {
		return keys.Identity{}, fmt.Errorf("Another seed already lives at %s", keyfile)
	}

	seed, err := keys.GenerateSeed()

	if err != nil {
		return keys.Identity{}, err
	}

	if err := seedFile.WriteSeed(seed); err != nil {
		return keys.Identity{}, err
	}

	return keys.FromSeed(seed)
}
