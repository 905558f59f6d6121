package firewall

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"github.com/wicketnetworks/wicket/src/common"
	"github.com/wicketnetworks/wicket/src/keys"
)

func testPeerID(t testing.TB) peer.ID {
	t.Helper()

	seed, err := keys.GenerateSeed()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	id, err := keys.FromSeed(seed)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	return id.PeerID
}

func waitFor(t testing.TB, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestParsePeerSet(t *testing.T) {
	alice := testPeerID(t)
	bob := testPeerID(t)
	carol := testPeerID(t)

	content := fmt.Sprintf(`# authorized peers
%s alice

%s bob the builder
  # indented comment
%s
`, alice, bob, carol)

	set, err := ParsePeerSet([]byte(content))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if set.Len() != 3 {
		t.Fatalf("set should contain 3 peers, not %d", set.Len())
	}

	name, ok := set.Contains(alice)
	if !ok || name != "alice" {
		t.Fatalf("alice not found: %v %v", name, ok)
	}

	name, ok = set.Contains(bob)
	if !ok || name != "bob the builder" {
		t.Fatalf("bob not found: %v %v", name, ok)
	}

	name, ok = set.Contains(carol)
	if !ok || name != "" {
		t.Fatalf("carol not found: %v %v", name, ok)
	}

	if _, ok := set.Contains(testPeerID(t)); ok {
		t.Fatalf("unknown peer should not be in the set")
	}
}

func TestParsePeerSetMalformed(t *testing.T) {
	content := fmt.Sprintf("%s alice\nnot-a-public-key mallory\n", testPeerID(t))

	if _, err := ParsePeerSet([]byte(content)); err == nil {
		t.Fatalf("ParsePeerSet should reject malformed public keys")
	}
}

func TestFirewallDecisions(t *testing.T) {
	dir, err := os.MkdirTemp("", "wicket")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	alice := testPeerID(t)
	mallory := testPeerID(t)

	path := filepath.Join(dir, "authorized_peers")
	if err := os.WriteFile(path, []byte(alice.String()+" alice\n"), 0600); err != nil {
		t.Fatalf("err: %v", err)
	}

	fw, err := New(path, false, common.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer fw.Close()

	if !fw.Allowed(alice) {
		t.Fatalf("alice should be allowed")
	}
	if fw.Allowed(mallory) {
		t.Fatalf("mallory should be denied")
	}

	// with the firewall open, everyone gets in
	open, err := New(path, true, common.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer open.Close()

	if !open.Allowed(mallory) {
		t.Fatalf("mallory should be allowed with the firewall open")
	}
}

func TestFirewallCreatesFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "wicket")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "authorized_peers")

	fw, err := New(path, false, common.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer fw.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("authorized peers file was not created: %v", err)
	}

	if !strings.HasPrefix(string(data), "#") {
		t.Fatalf("created file should start with a header comment, got %q", data)
	}

	if len(fw.Snapshot()) != 0 {
		t.Fatalf("created file should authorize zero peers")
	}

	if fw.Allowed(testPeerID(t)) {
		t.Fatalf("no peer should be allowed before the file is populated")
	}
}

func TestFirewallMalformedAtStartup(t *testing.T) {
	dir, err := os.MkdirTemp("", "wicket")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "authorized_peers")
	if err := os.WriteFile(path, []byte("garbage entry\n"), 0600); err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := New(path, false, common.NewTestEntry(t, logrus.DebugLevel)); err == nil {
		t.Fatalf("New should reject a malformed authorized peers file")
	}
}

func TestFirewallReload(t *testing.T) {
	dir, err := os.MkdirTemp("", "wicket")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	alice := testPeerID(t)
	bob := testPeerID(t)

	path := filepath.Join(dir, "authorized_peers")
	if err := os.WriteFile(path, []byte(alice.String()+" alice\n"), 0600); err != nil {
		t.Fatalf("err: %v", err)
	}

	fw, err := New(path, false, common.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer fw.Close()

	if fw.Allowed(bob) {
		t.Fatalf("bob should not be allowed yet")
	}

	content := fmt.Sprintf("%s alice\n%s bob\n", alice, bob)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("err: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return fw.Allowed(bob)
	})

	// alice survived the swap
	if !fw.Allowed(alice) {
		t.Fatalf("alice should still be allowed")
	}
}

func TestFirewallKeepsLastKnownGood(t *testing.T) {
	dir, err := os.MkdirTemp("", "wicket")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	alice := testPeerID(t)

	path := filepath.Join(dir, "authorized_peers")
	if err := os.WriteFile(path, []byte(alice.String()+" alice\n"), 0600); err != nil {
		t.Fatalf("err: %v", err)
	}

	fw, err := New(path, false, common.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer fw.Close()

	// a malformed live edit must not clear the in-memory set
	if err := os.WriteFile(path, []byte("garbage entry\n"), 0600); err != nil {
		t.Fatalf("err: %v", err)
	}

	time.Sleep(500 * time.Millisecond)

	if !fw.Allowed(alice) {
		t.Fatalf("alice should still be allowed after a malformed edit")
	}

	// a removed file means zero authorized peers
	if err := os.Remove(path); err != nil {
		t.Fatalf("err: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return !fw.Allowed(alice)
	})
}

func TestGater(t *testing.T) {
	dir, err := os.MkdirTemp("", "wicket")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	alice := testPeerID(t)
	mallory := testPeerID(t)

	path := filepath.Join(dir, "authorized_peers")
	if err := os.WriteFile(path, []byte(alice.String()+" alice\n"), 0600); err != nil {
		t.Fatalf("err: %v", err)
	}

	fw, err := New(path, false, common.NewTestEntry(t, logrus.DebugLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer fw.Close()

	gater := NewGater(fw)

	if !gater.InterceptSecured(network.DirInbound, alice, nil) {
		t.Fatalf("inbound alice should pass the gater")
	}
	if gater.InterceptSecured(network.DirInbound, mallory, nil) {
		t.Fatalf("inbound mallory should not pass the gater")
	}

	// outbound connections are not firewall business
	if !gater.InterceptSecured(network.DirOutbound, mallory, nil) {
		t.Fatalf("outbound connections should always pass")
	}

	if !gater.InterceptAccept(nil) {
		t.Fatalf("accept should pass before draining")
	}

	gater.SetDraining()

	if gater.InterceptAccept(nil) {
		t.Fatalf("accept should fail while draining")
	}
	if gater.InterceptSecured(network.DirInbound, alice, nil) {
		t.Fatalf("inbound alice should be refused while draining")
	}
}
