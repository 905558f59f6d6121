// Package shutdown coordinates graceful process teardown. Components register
// cleanup actions under priority tiers; the drain runs the tiers in ascending
// order with a barrier between them, and actions within a tier concurrently.
// A registration can be cancelled when the resource it guards closes on its
// own, and a registration made after its tier was drained runs on the spot.
package shutdown
