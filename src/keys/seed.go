package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
)

// SeedFile reads and writes the identity seed from/to an unencrypted and
// unformated file: a single line containing the hex dump of the seed.
type SeedFile struct {
	l       sync.Mutex
	keyfile string
}

// NewSeedFile instantiates a new SeedFile with an underlying file
func NewSeedFile(keyfile string) *SeedFile {
	seedFile := &SeedFile{
		keyfile: keyfile,
	}

	return seedFile
}

// CheckFileInfo verifies that the file exists and has user permissions only.
func (k *SeedFile) CheckFileInfo() error {
	info, err := os.Stat(k.keyfile)
	if err != nil {
		return err
	}

	// get file permissions
	perm := info.Mode().Perm()

	// build 000111111 mask
	var nonUserMask os.FileMode = (1 << 6) - 1

	// get permissions for 'groups' and 'others'
	nonUserPerm := perm & nonUserMask

	if nonUserPerm != 0 {
		return fmt.Errorf("seed file permissions should exclude 'groups' and 'others'. Got %o", perm)
	}

	return nil
}

// ReadSeed reads the underlying file, which is expected to contain a raw hex
// dump of a 32 byte seed, as produced by WriteSeed. Any content that does not
// decode to a seed of the right size is an error: the gateway must never
// listen under an ambiguous identity.
func (k *SeedFile) ReadSeed() ([]byte, error) {
	k.l.Lock()
	defer k.l.Unlock()

	if err := k.CheckFileInfo(); err != nil {
		return nil, err
	}

	buf, err := os.ReadFile(k.keyfile)
	if err != nil {
		return nil, err
	}

	trimmedSeedString := strings.TrimSpace(string(buf))

	seed, err := hex.DecodeString(trimmedSeedString)
	if err != nil {
		return nil, fmt.Errorf("decoding seed file %s: %v", k.keyfile, err)
	}

	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed file %s contains %d bytes, expected %d", k.keyfile, len(seed), SeedSize)
	}

	return seed, nil
}

// WriteSeed writes a raw hex dump of the seed to the underlying file.
func (k *SeedFile) WriteSeed(seed []byte) error {
	k.l.Lock()
	defer k.l.Unlock()

	rawSeed := hex.EncodeToString(seed)

	if err := os.MkdirAll(path.Dir(k.keyfile), 0700); err != nil {
		return err
	}

	return os.WriteFile(k.keyfile, []byte(rawSeed), 0600)
}

// GenerateSeed produces a fresh random seed.
func GenerateSeed() ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// EnsureSeed returns the seed stored at path, generating and persisting a new
// one first if the file does not exist. Any other read problem, including
// undecodable content, is returned as an error.
func EnsureSeed(path string) ([]byte, error) {
	keyfile := NewSeedFile(path)

	seed, err := keyfile.ReadSeed()
	if err == nil {
		return seed, nil
	}

	if !os.IsNotExist(err) {
		return nil, err
	}

	seed, err = GenerateSeed()
	if err != nil {
		return nil, err
	}

	if err := keyfile.WriteSeed(seed); err != nil {
		return nil, err
	}

	return seed, nil
}
