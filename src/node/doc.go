// Package node implements the connection gateway itself: the per-connection
// lifecycle supervisor and the sub-protocol dispatcher. Every admitted
// connection gets a keepalive probe loop, error classification, close
// logging, and a socket-tier entry in the shutdown orchestrator that is
// cancelled the moment the connection closes on its own. Streams negotiated
// for an enabled protocol are handed to exactly one handler instance each,
// and concurrent sessions on one connection never wait on each other.
package node
