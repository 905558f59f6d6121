// Package protocols defines the sub-protocols a connected peer can negotiate
// over the gateway's multiplexer, and the contract between the dispatcher and
// a protocol handler: a handler is constructed once per negotiated session,
// reports readiness through its channel, and is opened exactly once. The four
// built-in handlers are an interactive shell, file upload and download with a
// small framed header, and a policy-restricted TCP tunnel.
package protocols
