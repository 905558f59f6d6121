package shutdown

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Priority is the tier under which a teardown action is registered. Lower
// tiers are drained completely, including any waiting their actions perform,
// before the next tier begins.
type Priority int

// The gateway's teardown order: live sockets are asked to end and confirmed
// terminated, then the listener stops admitting connections, then the
// transport node releases its resources.
const (
	// PrioritySocket is the tier of per-connection teardown actions.
	PrioritySocket Priority = iota + 1
	// PriorityListener is the tier that stops accepting new connections.
	PriorityListener
	// PriorityNode is the tier that releases the transport node.
	PriorityNode
)

// String ...
func (p Priority) String() string {
	switch p {
	case PrioritySocket:
		return "socket"
	case PriorityListener:
		return "listener"
	case PriorityNode:
		return "node"
	default:
		return "unknown"
	}
}

// Registration is a handle on a registered teardown action.
type Registration struct {
	orch     *Orchestrator
	priority Priority
	name     string
	action   func()

	// claimed by the drain, or cancelled; protected by orch.mu
	taken bool
}

// Cancel removes the registration without running its action. Owners call it
// when they have already performed the equivalent cleanup on their own, so
// the drain never acts on an already-dead resource. Cancelling a registration
// the drain has claimed is a no-op.
func (r *Registration) Cancel() {
	r.orch.cancel(r)
}

// Orchestrator is the process-wide teardown registry. It is created once at
// process start, passed by reference to every component that needs guaranteed
// cleanup, and drained exactly once at process end.
type Orchestrator struct {
	mu      sync.Mutex
	tiers   map[Priority][]*Registration
	claimed Priority // highest tier the drain has claimed so far
	down    bool
	done    bool

	once   sync.Once
	logger *logrus.Entry
}

// New ...
func New(logger *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		tiers:  map[Priority][]*Registration{},
		logger: logger,
	}
}

// Register adds a teardown action under a priority tier and returns a handle
// that can cancel it. The action must block until its cleanup is fully
// complete; that is what the inter-tier barrier waits on. If the drain has
// already claimed the tier, the action runs immediately in the caller, so a
// late arrival is still cleaned up rather than leaked.
func (o *Orchestrator) Register(p Priority, name string, action func()) *Registration {
	r := &Registration{
		orch:     o,
		priority: p,
		name:     name,
		action:   action,
	}

	o.mu.Lock()
	if o.done || (o.down && p <= o.claimed) {
		r.taken = true
		o.mu.Unlock()
		action()
		return r
	}
	o.tiers[p] = append(o.tiers[p], r)
	o.mu.Unlock()

	return r
}

// Len reports the number of pending registrations across all tiers.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, regs := range o.tiers {
		n += len(regs)
	}
	return n
}

// Shutdown drains the registry: tiers run in ascending priority order, all
// actions within a tier run concurrently, and a tier must fully complete
// before the next one starts. It blocks until the drain is finished. Calling
// it again, including concurrently, does nothing but wait for the first
// drain.
func (o *Orchestrator) Shutdown() {
	o.once.Do(o.drain)
}

func (o *Orchestrator) drain() {
	o.mu.Lock()
	o.down = true
	o.mu.Unlock()

	for {
		o.mu.Lock()

		var tier Priority
		found := false
		for p, regs := range o.tiers {
			if len(regs) == 0 {
				continue
			}
			if !found || p < tier {
				tier = p
				found = true
			}
		}

		if !found {
			o.done = true
			o.mu.Unlock()
			return
		}

		regs := o.tiers[tier]
		delete(o.tiers, tier)
		for _, r := range regs {
			r.taken = true
		}
		o.claimed = tier

		o.mu.Unlock()

		o.logger.WithFields(logrus.Fields{
			"tier":    tier.String(),
			"actions": len(regs),
		}).Debug("Draining shutdown tier")

		var wg sync.WaitGroup
		for _, r := range regs {
			wg.Add(1)
			go func(r *Registration) {
				defer wg.Done()
				r.action()
			}(r)
		}

		// the barrier: this tier completes fully before the next is released
		wg.Wait()
	}
}

func (o *Orchestrator) cancel(r *Registration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r.taken {
		return
	}
	r.taken = true

	regs := o.tiers[r.priority]
	for i, reg := range regs {
		if reg == r {
			o.tiers[r.priority] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}
