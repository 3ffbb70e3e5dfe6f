// Package coordinator implements the Redis Cluster coordinator described
// in spec.md: a single-threaded mailbox actor that reconciles a local slot
// map against cluster topology, classifies cluster health, and publishes
// state-change notifications to observers.
//
// The actor shape (a mailbox of closures drained by one goroutine, with
// non-blocking notification fan-out) follows the same idiom
// kevwan-radix.v2's cluster.Cluster uses for its callCh/stopCh dispatch
// loop; see DESIGN.md.
package coordinator

import (
	"errors"
	"fmt"

	"clustercoord/internal/addr"
)

// ErrActorStopped is returned by synchronous calls made after Stop.
var ErrActorStopped = errors.New("coordinator: actor stopped")

const mailboxBuffer = 64

// Handle is the public reference returned by Start. All public operations
// are methods on *Handle.
type Handle struct {
	mailbox chan func(*actor)
	done    chan struct{}
}

// actor owns all mutable coordinator state; every field is touched only
// from the run loop goroutine.
type actor struct {
	state
	mailbox chan func(*actor)
	done    chan struct{}

	sinks        []*observerSink
	clusterState ClusterState

	refreshArmed bool
	refreshToken uint64

	finished bool
}

// Start spawns the actor, opens a client per seed address, and returns a
// handle. Initial cluster_state is NOK; no refresh is armed until the
// first NOK classification triggers one (spec.md §4.1).
func Start(seeds []addr.Address, opts Options) (*Handle, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	h := &Handle{
		mailbox: make(chan func(*actor), mailboxBuffer),
		done:    make(chan struct{}),
	}

	a := &actor{
		state:        newState(seeds, opts),
		mailbox:      h.mailbox,
		done:         h.done,
		clusterState: StateNOK,
	}
	for _, obs := range opts.Observers {
		a.sinks = append(a.sinks, newObserverSink(obs))
	}

	go a.run()

	// Opening seed clients happens synchronously relative to Start so that
	// callers observe a coordinator with its initial connections already in
	// flight, mirroring the teacher's eager dial-on-construction pattern
	// (internal/cluster.ClusterClient.Connect).
	errCh := make(chan error, 1)
	h.mailbox <- func(a *actor) {
		var firstErr error
		for _, seed := range seeds {
			if _, err := a.openNode(seed); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("coordinator: open seed %s: %w", seed, err)
			}
		}
		a.reclassify()
		errCh <- firstErr
	}
	if err := <-errCh; err != nil {
		h.Stop()
		return nil, err
	}

	return h, nil
}

// validateOptions rejects unknown configuration eagerly (spec.md §7:
// configuration errors fail construction; data-plane errors never do).
// Options is a typed struct in this Go port rather than a property list,
// so "unknown option" collapses to validating the fields that do exist.
func validateOptions(opts Options) error {
	if opts.MinReplicas < 0 {
		return fmt.Errorf("coordinator: invalid option MinReplicas=%d: must be >= 0", opts.MinReplicas)
	}
	if opts.UpdateSlotWait < 0 {
		return fmt.Errorf("coordinator: invalid option UpdateSlotWait=%v: must be >= 0", opts.UpdateSlotWait)
	}
	if opts.CloseWait < 0 {
		return fmt.Errorf("coordinator: invalid option CloseWait=%v: must be >= 0", opts.CloseWait)
	}
	return nil
}

// run is the actor's mailbox dispatch loop: one goroutine, one handler at
// a time, exactly as spec.md §5 requires.
func (a *actor) run() {
	for f := range a.mailbox {
		f(a)
		if a.finished {
			close(a.done)
			return
		}
	}
}

// call submits fn to the actor and blocks until it has been accepted,
// returning ErrActorStopped if the actor has already terminated.
func (h *Handle) call(fn func(*actor)) error {
	select {
	case h.mailbox <- fn:
		return nil
	case <-h.done:
		return ErrActorStopped
	}
}

// Stop performs ordered teardown: every known client is stopped, then the
// actor terminates (spec.md §4.1, §5).
func (h *Handle) Stop() {
	_ = h.call(func(a *actor) {
		a.shutdown()
	})
	<-h.done
}

func (a *actor) shutdown() {
	a.disarmRefresh()
	for addr, entry := range a.nodes {
		entry.client.Stop()
		delete(a.nodes, addr)
	}
	for _, s := range a.sinks {
		s.close()
	}
	a.finished = true
}

func (a *actor) log(format string, args ...interface{}) {
	a.opts.Logger.Debug(format, args...)
}

// publish fans ev out to every observer's sink without blocking the actor.
func (a *actor) publish(ev Event) {
	for _, s := range a.sinks {
		s.publish(ev)
	}
}
