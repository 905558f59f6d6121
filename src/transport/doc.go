// Package transport puts the gateway on the overlay network. It wraps a
// libp2p host whose identity is the gateway's key pair, so every connection
// is end-to-end encrypted and authenticated by public key, and a Kademlia
// DHT that lets peers reach the gateway knowing nothing but that key.
package transport
