package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wicketnetworks/wicket/src/firewall"
	"github.com/wicketnetworks/wicket/src/journal"
	"github.com/wicketnetworks/wicket/src/node"
	"github.com/wicketnetworks/wicket/src/version"
)

// defaultJournalCount is how many journal events are returned when the
// request does not say otherwise.
const defaultJournalCount = 100

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	fw          *firewall.Firewall
	jrnl        journal.Journal
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, fw *firewall.Firewall, jrnl journal.Journal, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		fw:          fw,
		jrnl:        jrnl,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Wicket API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/connections", s.makeHandler(s.GetConnections))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/journal", s.makeHandler(s.GetJournal))
	http.HandleFunc("/version", s.makeHandler(s.GetVersion))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when another server has already been started with the
// DefaultServerMux and the same address:port combination; the API handlers
// have already been registered when the service was instantiated.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Wicket API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetConnections ...
func (s *Service) GetConnections(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.node.Connections())
}

// peerInfo is the JSON rendering of one authorized peer.
type peerInfo struct {
	PubKey string
	Name   string
}

// peersView is the JSON rendering of the firewall state.
type peersView struct {
	Open  bool
	Peers []peerInfo
}

// GetPeers returns the current authorized-peer set and whether the firewall
// is running open.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	view := peersView{
		Open:  s.fw.Open(),
		Peers: []peerInfo{},
	}

	for _, p := range s.fw.Snapshot() {
		view.Peers = append(view.Peers, peerInfo{
			PubKey: p.PubKey.String(),
			Name:   p.Name,
		})
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(view)
}

// GetJournal returns the most recent journal events. The count parameter
// bounds how many.
func (s *Service) GetJournal(w http.ResponseWriter, r *http.Request) {
	count := defaultJournalCount
	if param := r.URL.Query().Get("count"); param != "" {
		c, err := strconv.Atoi(param)
		if err != nil || c < 0 {
			http.Error(w, "invalid count parameter", http.StatusBadRequest)
			return
		}
		count = c
	}

	events, err := s.jrnl.Recent(count)
	if err != nil {
		s.logger.WithError(err).Error("Reading journal")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(events)
}

// GetVersion ...
func (s *Service) GetVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]string{
		"version": version.Version,
	})
}
