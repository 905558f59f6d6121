package keys

import (
	"encoding/hex"
	"os"
	"path"
	"testing"
)

func TestSeedFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "wicket")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	seedFile := NewSeedFile(path.Join(dir, "seed"))

	// Try a read, should get nothing
	seed, err := seedFile.ReadSeed()
	if err == nil {
		t.Fatalf("ReadSeed should generate an error")
	}
	if seed != nil {
		t.Fatalf("seed is not nil")
	}

	// Initialize a seed and try a write
	seed, err = GenerateSeed()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := seedFile.WriteSeed(seed); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should get the same seed back
	nSeed, err := seedFile.ReadSeed()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if hex.EncodeToString(nSeed) != hex.EncodeToString(seed) {
		t.Fatalf("seeds do not match")
	}
}

func TestSeedFileContent(t *testing.T) {
	dir, err := os.MkdirTemp("", "wicket")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	// not hex, too short, too long
	badContents := []string{
		"not hex at all",
		"abcdef",
		hex.EncodeToString(make([]byte, 64)),
	}

	for _, content := range badContents {
		p := path.Join(dir, "seed")
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatalf("err: %v", err)
		}

		if _, err := NewSeedFile(p).ReadSeed(); err == nil {
			t.Fatalf("ReadSeed should reject %q", content)
		}
	}
}

func TestFilePermissions(t *testing.T) {
	dir, err := os.MkdirTemp("", "wicket")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	seed, _ := GenerateSeed()
	rawSeed := hex.EncodeToString(seed)

	badSeedPath := path.Join(dir, "seed_bad")

	// random selection of permissions that should not be accepted. There might
	// be a more clever way to build this list.
	shouldErr := []os.FileMode{
		0777, 0766, 0744,
		0677, 0666, 0644,
		0477, 0466, 0444,
	}

	for _, fm := range shouldErr {
		os.WriteFile(badSeedPath, []byte(rawSeed), fm)

		badSeedFile := NewSeedFile(badSeedPath)

		if _, err := badSeedFile.ReadSeed(); err == nil {
			t.Fatalf("%o || badSeedFile should return permissions error", fm)
		}
	}

	goodSeedPath := path.Join(dir, "seed_good")

	// random selection of permissions that should pass
	shouldNotErr := []os.FileMode{
		0700, 0600, 0500, 0400,
	}

	for _, fm := range shouldNotErr {
		os.WriteFile(goodSeedPath, []byte(rawSeed), fm)

		goodSeedFile := NewSeedFile(goodSeedPath)

		if _, err := goodSeedFile.ReadSeed(); err != nil {
			t.Fatalf("%o || goodSeedFile should not return error. Got %v", fm, err)
		}
	}
}

func TestDeterministicIdentity(t *testing.T) {
	seed, err := GenerateSeed()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	id1, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	id2, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if id1.PeerID != id2.PeerID {
		t.Fatalf("same seed produced different identities: %s / %s",
			id1.PublicString(), id2.PublicString())
	}

	otherSeed, _ := GenerateSeed()
	otherID, err := FromSeed(otherSeed)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if otherID.PeerID == id1.PeerID {
		t.Fatalf("different seeds produced the same identity")
	}
}

func TestEnsureIdentity(t *testing.T) {
	dir, err := os.MkdirTemp("", "wicket")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	seedPath := path.Join(dir, "seed")

	// First call creates the seed file
	id1, err := EnsureIdentity(seedPath)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := os.Stat(seedPath); err != nil {
		t.Fatalf("seed file was not created: %v", err)
	}

	// Second call reuses it and derives the same identity
	id2, err := EnsureIdentity(seedPath)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if id1.PeerID != id2.PeerID {
		t.Fatalf("EnsureIdentity is not stable: %s / %s",
			id1.PublicString(), id2.PublicString())
	}
}
