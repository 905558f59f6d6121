package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"github.com/wicketnetworks/wicket/src/common"
	"github.com/wicketnetworks/wicket/src/firewall"
	"github.com/wicketnetworks/wicket/src/journal"
	"github.com/wicketnetworks/wicket/src/keys"
	"github.com/wicketnetworks/wicket/src/protocols"
	"github.com/wicketnetworks/wicket/src/shutdown"
	"github.com/wicketnetworks/wicket/src/transport"
)

type testGateway struct {
	node  *Node
	trans *transport.Transport
	orch  *shutdown.Orchestrator
	jrnl  *journal.InmemJournal
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testIdentity(t *testing.T) keys.Identity {
	t.Helper()
	seed, err := keys.GenerateSeed()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	id, err := keys.FromSeed(seed)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return id
}

func startGateway(t *testing.T, authorized []peer.ID, names []string) *testGateway {
	t.Helper()

	logger := common.NewTestEntry(t, logrus.DebugLevel)

	peersPath := filepath.Join(t.TempDir(), "authorized_peers")
	if len(authorized) > 0 {
		var b strings.Builder
		for _, p := range authorized {
			fmt.Fprintf(&b, "%s test-peer\n", p)
		}
		if err := os.WriteFile(peersPath, []byte(b.String()), 0600); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	fw, err := firewall.New(peersPath, false, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	t.Cleanup(func() { fw.Close() })

	gater := firewall.NewGater(fw)

	id := testIdentity(t)
	trans, err := transport.New(context.Background(), id.PrivKey, transport.Config{TestNet: true}, gater, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	registry := protocols.NewRegistry()
	for _, name := range names {
		switch name {
		case protocols.Shell:
			registry.Register(name, protocols.NewShellHandler)
		case protocols.Upload:
			registry.Register(name, protocols.NewUploadHandler)
		case protocols.Download:
			registry.Register(name, protocols.NewDownloadHandler)
		case protocols.Tunnel:
			registry.Register(name, protocols.NewTunnelHandler(protocols.TunnelPolicy{
				Hosts: []string{"127.0.0.1"},
			}))
		}
	}

	orch := shutdown.New(logger)
	jrnl := journal.NewInmemJournal(1000)

	n := NewNode(500*time.Millisecond, "testgw", trans, gater, registry, jrnl, orch, logger)

	runDone := make(chan struct{})
	go func() {
		n.Run()
		close(runDone)
	}()

	// the started event is recorded once the protocols are bound, so a client
	// connecting after this cannot outrun the stream handlers
	waitFor(t, "node to start", func() bool {
		events, err := jrnl.Recent(1)
		return err == nil && len(events) > 0
	})

	// wait for Run to return so no node goroutine outlives the test
	t.Cleanup(func() {
		n.Shutdown()
		<-runDone
	})

	return &testGateway{
		node:  n,
		trans: trans,
		orch:  orch,
		jrnl:  jrnl,
	}
}

func startClient(t *testing.T) *transport.Transport {
	t.Helper()

	id := testIdentity(t)
	trans, err := transport.New(
		context.Background(),
		id.PrivKey,
		transport.Config{TestNet: true},
		nil,
		common.NewTestEntry(t, logrus.DebugLevel),
	)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	t.Cleanup(func() { trans.Close() })

	return trans
}

func connect(t *testing.T, client *transport.Transport, gw *testGateway) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addrs := gw.trans.AddrStrings()
	if len(addrs) == 0 {
		t.Fatal("gateway has no addresses")
	}

	pid, err := client.ConnectAddr(ctx, addrs[0])
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if pid != gw.trans.ID() {
		t.Fatalf("peer: got %s, want %s", pid, gw.trans.ID())
	}
}

func TestAuthorizedPeerAdmitted(t *testing.T) {
	client := startClient(t)
	gw := startGateway(t, []peer.ID{client.ID()}, protocols.Names())

	connect(t, client, gw)

	waitFor(t, "connection to be tracked", func() bool {
		return len(gw.node.Connections()) == 1
	})

	conns := gw.node.Connections()
	if conns[0].Peer != client.ID().String() {
		t.Fatalf("peer: got %s, want %s", conns[0].Peer, client.ID())
	}
	if conns[0].Direction != "inbound" {
		t.Fatalf("direction: got %s, want inbound", conns[0].Direction)
	}
}

func TestUnknownPeerRejected(t *testing.T) {
	client := startClient(t)
	gw := startGateway(t, nil, protocols.Names())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.ConnectAddr(ctx, gw.trans.AddrStrings()[0]); err == nil {
		t.Fatal("unauthorized peer connected")
	}

	if got := len(gw.node.Connections()); got != 0 {
		t.Fatalf("connections: got %d, want 0", got)
	}
}

func TestDisabledProtocolNeverDispatched(t *testing.T) {
	client := startClient(t)
	gw := startGateway(t, []peer.ID{client.ID()}, []string{protocols.Shell})

	connect(t, client, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// upload is not in the enabled set, so negotiation must fail
	s, err := client.Host().NewStream(ctx, gw.trans.ID(), protocols.UploadID)
	if err == nil {
		s.Reset()
		t.Fatal("disabled protocol negotiated")
	}

	events, err := gw.jrnl.Recent(1000)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	for _, ev := range events {
		if ev.Type == journal.TypeSessionOpen {
			t.Fatalf("session opened for %q on a restricted gateway", ev.Protocol)
		}
	}
}

func TestUploadSession(t *testing.T) {
	client := startClient(t)
	gw := startGateway(t, []peer.ID{client.ID()}, protocols.Names())

	connect(t, client, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := client.Host().NewStream(ctx, gw.trans.ID(), protocols.UploadID)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	target := filepath.Join(t.TempDir(), "via-gateway.txt")
	content := []byte("carried across the overlay\n")

	err = protocols.WriteFrame(s, protocols.FileInfo{
		Name: target,
		Size: int64(len(content)),
		Mode: 0600,
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	ack := protocols.TransferStatus{}
	if err := protocols.ReadFrame(s, &ack); err != nil {
		t.Fatalf("err: %v", err)
	}
	if !ack.OK {
		t.Fatalf("upload refused: %s", ack.Error)
	}

	if _, err := s.Write(content); err != nil {
		t.Fatalf("err: %v", err)
	}

	final := protocols.TransferStatus{}
	if err := protocols.ReadFrame(s, &final); err != nil {
		t.Fatalf("err: %v", err)
	}
	if !final.OK {
		t.Fatalf("upload failed: %s", final.Error)
	}
	s.Close()

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch. got %q, want %q", got, content)
	}

	// the session shows up and winds down in the journal
	waitFor(t, "session close event", func() bool {
		events, err := gw.jrnl.Recent(1000)
		if err != nil {
			return false
		}
		for _, ev := range events {
			if ev.Type == journal.TypeSessionClose && ev.Protocol == protocols.Upload {
				return true
			}
		}
		return false
	})
}

func TestNaturalCloseCancelsShutdownAction(t *testing.T) {
	client := startClient(t)
	gw := startGateway(t, []peer.ID{client.ID()}, protocols.Names())

	// listener and transport registrations are always there
	base := gw.orch.Len()

	connect(t, client, gw)

	waitFor(t, "socket registration", func() bool {
		return gw.orch.Len() == base+1
	})

	client.Close()

	// the registration disappears without running
	waitFor(t, "socket registration cancelled", func() bool {
		return gw.orch.Len() == base
	})

	waitFor(t, "connection forgotten", func() bool {
		return len(gw.node.Connections()) == 0
	})
}

func TestShutdownTerminatesConnections(t *testing.T) {
	client := startClient(t)
	gw := startGateway(t, []peer.ID{client.ID()}, protocols.Names())

	connect(t, client, gw)

	waitFor(t, "connection to be tracked", func() bool {
		return len(gw.node.Connections()) == 1
	})

	gw.node.Shutdown()

	if got := gw.node.getState(); got != Shutdown {
		t.Fatalf("state: got %s, want Shutdown", got)
	}
	if got := gw.orch.Len(); got != 0 {
		t.Fatalf("pending registrations after shutdown: %d", got)
	}

	waitFor(t, "client to see the close", func() bool {
		return client.Host().Network().Connectedness(gw.trans.ID()) != network.Connected
	})

	// a second shutdown is a no-op
	gw.node.Shutdown()
}

func TestExpectedErrors(t *testing.T) {
	cases := []struct {
		err      error
		expected bool
	}{
		{nil, true},
		{io.EOF, true},
		{network.ErrReset, true},
		{context.Canceled, true},
		{os.ErrDeadlineExceeded, true},
		{errors.New("handler blew up"), false},
	}

	for _, c := range cases {
		if got := expectedError(c.err); got != c.expected {
			t.Fatalf("expectedError(%v): got %v, want %v", c.err, got, c.expected)
		}
	}
}
