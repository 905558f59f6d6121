package firewall

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// fileHeader is written to the authorized-peers file when it does not exist
// yet, so the gateway can start before any peer has been authorized.
const fileHeader = `# wicket authorized peers
# one peer per line: <public-key> <name>
`

// AuthorizedPeer is one entry of the allow-list.
type AuthorizedPeer struct {
	PubKey peer.ID
	Name   string
}

// PeerSet is an immutable snapshot of the allow-list. A snapshot is replaced
// in full, never mutated, so a concurrent firewall check always observes a
// complete set.
type PeerSet struct {
	Peers []*AuthorizedPeer
}

// Contains scans the set in order and returns the name attached to the first
// entry matching the public key.
func (s *PeerSet) Contains(p peer.ID) (string, bool) {
	for _, ap := range s.Peers {
		if ap.PubKey == p {
			return ap.Name, true
		}
	}
	return "", false
}

// Len ...
func (s *PeerSet) Len() int {
	return len(s.Peers)
}

// ParsePeerSet parses the content of an authorized-peers file: one
// whitespace-separated "<public-key> <name>" record per line, blank lines and
// #-prefixed comments ignored. A public key that does not decode makes the
// whole file invalid; no partial set is ever returned.
func ParsePeerSet(data []byte) (*PeerSet, error) {
	set := &PeerSet{}

	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)

		id, err := peer.Decode(fields[0])
		if err != nil {
			return nil, fmt.Errorf("authorized peers line %d: decoding public key %q: %v", i+1, fields[0], err)
		}

		name := ""
		if len(fields) > 1 {
			name = strings.Join(fields[1:], " ")
		}

		set.Peers = append(set.Peers, &AuthorizedPeer{PubKey: id, Name: name})
	}

	return set, nil
}

// Firewall maintains the set of authorized remote public keys and renders
// allow/deny decisions during the connection handshake. The backing file is
// watched for external changes; every change triggers a full re-parse and an
// atomic swap of the in-memory set, so decisions never lock and never see a
// half-applied update.
type Firewall struct {
	path   string
	open   bool
	logger *logrus.Entry

	set atomic.Value // *PeerSet

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
}

// New builds a Firewall over the file at path. A missing file is created with
// a header comment and zero peers; malformed content is an error, because the
// gateway must not start serving with an ambiguous allow-list. When open is
// true every decision allows, whatever the file says.
func New(path string, open bool, logger *logrus.Entry) (*Firewall, error) {
	path = filepath.Clean(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(fileHeader), 0600); err != nil {
			return nil, err
		}
		logger.WithField("path", path).Info("Created authorized peers file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	set, err := ParsePeerSet(data)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the parent directory rather than the file itself: editors that
	// replace the file atomically would otherwise kill the watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	f := &Firewall{
		path:    path,
		open:    open,
		logger:  logger,
		watcher: watcher,
	}
	f.set.Store(set)

	go f.watch()

	if open {
		logger.Warn("Firewall disabled: all peers will be allowed")
	} else {
		logger.WithField("peers", set.Len()).Info("Firewall loaded")
	}

	return f, nil
}

// Allowed renders the firewall decision for a remote public key. Every
// decision is logged with the peer's encoded public key.
func (f *Firewall) Allowed(p peer.ID) bool {
	if f.open {
		f.logger.Infof("Firewall open, allowing: %s", p)
		return true
	}

	name, ok := f.peerSet().Contains(p)
	if ok {
		if name != "" {
			f.logger.Infof("Firewall allowed: %s (%s)", p, name)
		} else {
			f.logger.Infof("Firewall allowed: %s", p)
		}
		return true
	}

	f.logger.Warnf("Firewall denied: %s", p)
	return false
}

// Open says whether firewall enforcement is disabled.
func (f *Firewall) Open() bool {
	return f.open
}

// Snapshot returns the current authorized peers.
func (f *Firewall) Snapshot() []*AuthorizedPeer {
	return f.peerSet().Peers
}

// Close stops watching the backing file.
func (f *Firewall) Close() error {
	var err error
	f.closeOnce.Do(func() {
		err = f.watcher.Close()
	})
	return err
}

func (f *Firewall) peerSet() *PeerSet {
	return f.set.Load().(*PeerSet)
}

// watch is the single consumer of file events. It re-parses the whole file on
// every relevant change and swaps the set in one atomic store.
func (f *Firewall) watch() {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			f.reload()
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.WithError(err).Warn("Authorized peers watcher error")
		}
	}
}

func (f *Firewall) reload() {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			// a missing file means zero authorized peers, not an error
			f.set.Store(&PeerSet{})
			f.logger.Warn("Authorized peers file removed: zero peers authorized")
		} else {
			f.logger.WithError(err).Warn("Cannot read authorized peers file: keeping last set")
		}
		return
	}

	set, err := ParsePeerSet(data)
	if err != nil {
		f.logger.WithError(err).Warn("Cannot parse authorized peers file: keeping last set")
		return
	}

	f.set.Store(set)
	f.logger.WithField("peers", set.Len()).Info("Authorized peers reloaded")
}
