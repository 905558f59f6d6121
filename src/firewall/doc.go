// Package firewall implements the gateway's peer authorization.
//
// The firewall here is not a packet filter: it is an authorization gate
// evaluated against the remote peer's public key during the transport
// handshake, before any multiplexed channel exists. The set of authorized
// keys lives in a plain text file, one "<public-key> <name>" record per line,
// which operators edit while the gateway runs; a file watcher re-parses it on
// every change and swaps the in-memory set atomically, so handshake checks
// are lock-free and never observe a partially-applied update.
//
// Enforcement can be disabled for a run, in which case every peer is allowed.
// This is logged distinctly from an allow-list match since it is a materially
// different security posture.
package firewall
