package node

import (
	"sync"
	"sync/atomic"
)

// NodeState captures the state of a wicket node: Running, ShuttingDown, or
// Shutdown.
type NodeState uint32

const (
	// Running is the normal serving state.
	Running NodeState = iota

	// ShuttingDown is the state while the orchestrator drains.
	ShuttingDown

	// Shutdown is the terminal state.
	Shutdown
)

func (s NodeState) String() string {
	switch s {
	case Running:
		return "Running"
	case ShuttingDown:
		return "ShuttingDown"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

type state struct {
	state NodeState
	wg    sync.WaitGroup
}

func (b *state) getState() NodeState {
	stateAddr := (*uint32)(&b.state)
	return NodeState(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s NodeState) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

func (b *state) casState(from, to NodeState) bool {
	stateAddr := (*uint32)(&b.state)
	return atomic.CompareAndSwapUint32(stateAddr, uint32(from), uint32(to))
}

// goFunc runs a function in a goroutine and keeps track of it in the
// WaitGroup.
func (b *state) goFunc(f func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		f()
	}()
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
