// Package config defines the configuration for a wicket gateway.
//
// Regardless of how wicket is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, wicket relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//	seed             // a plain text file containing the hex-encoded identity seed (cf. wicket keygen).
//	authorized_peers // a text file listing the public keys allowed through the firewall.
//	wicket.toml      // (optional) configuration file (.json, .yaml also work).
//
// The seed and authorized-peers locations can be overridden individually with
// the "key" and "peers" options.
package config
