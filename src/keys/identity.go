package keys

import (
	"crypto/ed25519"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// SeedSize is the size of an identity seed in bytes.
const SeedSize = ed25519.SeedSize

// Identity is the gateway's cryptographic identity: an ed25519 keypair and
// the peer ID derived from its public key. The peer ID is the encoded public
// identity that remote peers dial and that the firewall matches against; for
// ed25519 the ID embeds the full public key.
type Identity struct {
	PrivKey crypto.PrivKey
	PeerID  peer.ID
}

// FromSeed derives an Identity deterministically from a seed. The same seed
// always produces the same keypair, and therefore the same peer ID.
func FromSeed(seed []byte) (Identity, error) {
	if len(seed) != SeedSize {
		return Identity{}, fmt.Errorf("seed is %d bytes, expected %d", len(seed), SeedSize)
	}

	edKey := ed25519.NewKeyFromSeed(seed)

	privKey, err := crypto.UnmarshalEd25519PrivateKey(edKey)
	if err != nil {
		return Identity{}, err
	}

	id, err := peer.IDFromPublicKey(privKey.GetPublic())
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		PrivKey: privKey,
		PeerID:  id,
	}, nil
}

// FromSeedFile reads the seed at path and derives the corresponding Identity.
func FromSeedFile(path string) (Identity, error) {
	seed, err := NewSeedFile(path).ReadSeed()
	if err != nil {
		return Identity{}, err
	}
	return FromSeed(seed)
}

// EnsureIdentity returns the Identity derived from the seed at path, creating
// the seed first if the file does not exist.
func EnsureIdentity(path string) (Identity, error) {
	seed, err := EnsureSeed(path)
	if err != nil {
		return Identity{}, err
	}
	return FromSeed(seed)
}

// PublicString returns the encoded public identity.
func (i Identity) PublicString() string {
	return i.PeerID.String()
}
