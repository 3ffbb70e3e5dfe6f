package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"clustercoord/internal/addr"
)

// defaultTestTimeout bounds how long the eventCollector helpers below will
// poll before failing a test.
const defaultTestTimeout = time.Second

// newBareActor builds an actor with no dialed clients, suitable for testing
// pure state-transition logic (classification, scheduler guards) without
// touching the network. Its mailbox is never drained by a run loop, so
// tests using it must avoid paths that block on a mailbox send.
func newBareActor() *actor {
	opts := Options{}.withDefaults()
	return &actor{
		state:        newState(nil, opts),
		mailbox:      make(chan func(*actor), mailboxBuffer),
		done:         make(chan struct{}),
		clusterState: StateNOK,
	}
}

// startMiniredisNode starts a miniredis instance and returns its address,
// registering cleanup with t.
func startMiniredisNode(t *testing.T) (*miniredis.Miniredis, addr.Address) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	a, err := addr.Parse(s.Addr())
	require.NoError(t, err)
	return s, a
}

// eventCollector is a thread-safe Observer used to assert on the sequence
// of events a coordinator publishes during a test.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) Notify(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) countOf(kind EventKind) int {
	n := 0
	for _, ev := range c.snapshot() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// waitForCount polls until at least n events have been recorded, or fails
// the test after timeout.
func (c *eventCollector) waitForCount(t *testing.T, n int, timeout time.Duration) []Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if events := c.snapshot(); len(events) >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d: %+v", n, len(c.snapshot()), c.snapshot())
	return nil
}

// waitForKind polls until at least one event of kind has been recorded, or
// fails the test after timeout.
func (c *eventCollector) waitForKind(t *testing.T, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range c.snapshot() {
			if ev.Kind == kind {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event kind %v, got: %+v", kind, c.snapshot())
	return Event{}
}
