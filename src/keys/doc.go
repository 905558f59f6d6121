// Package keys implements the gateway's on-disk identity.
//
// A wicket gateway is addressed by public key on the overlay, so its identity
// must be stable across restarts. Rather than persisting a keypair, wicket
// persists a 32 byte seed and derives an ed25519 keypair from it on every
// startup; the derivation is deterministic, so the same seed file always
// yields the same public identity. The seed lives in a plain text file
// containing a single hex-encoded line, readable by its owner only.
package keys
