// Package journal records what the gateway does: connections coming and
// going, sessions opening and closing, the node starting and stopping. The
// in-memory implementation keeps a bounded window of recent events; the
// Badger-backed implementation persists the full record across restarts.
package journal
