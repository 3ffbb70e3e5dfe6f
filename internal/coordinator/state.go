package coordinator

import (
	"time"

	"clustercoord/internal/addr"
	"clustercoord/internal/logger"
	"clustercoord/internal/metrics"
	"clustercoord/internal/nodeclient"
	"clustercoord/internal/slotmap"
)

// ClusterState is the coordinator's externally observable health.
type ClusterState int

const (
	StateNOK ClusterState = iota
	StateOK
)

func (s ClusterState) String() string {
	if s == StateOK {
		return "OK"
	}
	return "NOK"
}

// NodeHandle is an opaque reference to a per-node client. Callers may keep
// copies after ConnectNode or GetSlotMapInfo returns one, but a handle may
// become defunct close_wait after the coordinator removes its address
// (spec.md §3).
type NodeHandle struct {
	addr addr.Address
}

// Addr returns the address this handle refers to.
func (h NodeHandle) Addr() addr.Address { return h.addr }

// Options configures a coordinator at Start, mirroring spec.md §6.1.
type Options struct {
	// Observers are notified of every event (spec.md's info_pid).
	Observers []Observer
	// UpdateSlotWait is the interval between refresh attempts while NOK.
	// Default: 500ms.
	UpdateSlotWait time.Duration
	// ClientOpts is forwarded verbatim to each per-node client.
	ClientOpts nodeclient.Options
	// MinReplicas is the minimum replica count per master for OK health.
	// Default: 1.
	MinReplicas int
	// CloseWait is how long a removed client is kept alive before Stop is
	// called on it, to let in-flight replies drain. Default: 10s.
	CloseWait time.Duration
	// Logger receives diagnostic output; defaults to a no-op logger.
	Logger *logger.Logger
	// Metrics, if set, records version bumps and OK/NOK edges.
	Metrics *metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.UpdateSlotWait == 0 {
		o.UpdateSlotWait = 500 * time.Millisecond
	}
	if o.MinReplicas == 0 {
		o.MinReplicas = 1
	}
	if o.CloseWait == 0 {
		o.CloseWait = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

// nodeEntry bundles a live per-node client with its generation, used to
// detect a close_wait timer firing for a client that was already replaced.
type nodeEntry struct {
	client *nodeclient.Client
	gen    uint64
}

// state is the coordinator's private, actor-owned data (spec.md §3). It is
// never touched outside the actor goroutine.
type state struct {
	opts Options

	initialNodes []addr.Address // never mutated after Start
	nodes        map[addr.Address]*nodeEntry
	up           map[addr.Address]struct{}
	masters      map[addr.Address]struct{}
	queueFull    map[addr.Address]struct{}

	slotMap        slotmap.SlotMap
	slotMapVersion int

	nextGen uint64
}

func newState(seeds []addr.Address, opts Options) state {
	return state{
		opts:           opts,
		initialNodes:   append([]addr.Address(nil), seeds...),
		nodes:          make(map[addr.Address]*nodeEntry),
		up:             make(map[addr.Address]struct{}),
		masters:        make(map[addr.Address]struct{}),
		queueFull:      make(map[addr.Address]struct{}),
		slotMap:        slotmap.SlotMap{},
		slotMapVersion: 1,
	}
}

// isInitialNode reports whether a is one of the seed addresses.
func (s *state) isInitialNode(a addr.Address) bool {
	for _, seed := range s.initialNodes {
		if seed == a {
			return true
		}
	}
	return false
}
