package coordinator

import (
	"clustercoord/internal/addr"
	"clustercoord/internal/slotmap"
)

// GetSlotMapInfo returns a synchronous snapshot of the coordinator's
// current slot map, per spec.md §6.1: the version lets a caller detect
// staleness against a later UpdateSlots hint, and clients is limited to
// the nodes the slot map actually references.
func (h *Handle) GetSlotMapInfo() (version int, sm slotmap.SlotMap, clients map[addr.Address]NodeHandle, err error) {
	type result struct {
		version int
		sm      slotmap.SlotMap
		clients map[addr.Address]NodeHandle
	}
	resCh := make(chan result, 1)

	callErr := h.call(func(a *actor) {
		addrs := a.slotMap.Addresses()
		clients := make(map[addr.Address]NodeHandle, len(addrs))
		for addr := range addrs {
			if _, ok := a.nodes[addr]; ok {
				clients[addr] = NodeHandle{addr: addr}
			}
		}
		resCh <- result{
			version: a.slotMapVersion,
			sm:      a.slotMap.Canonical(),
			clients: clients,
		}
	})
	if callErr != nil {
		return 0, nil, nil, callErr
	}

	r := <-resCh
	return r.version, r.sm, r.clients, nil
}

// ConnectNode opens (or returns the existing handle to) a client for addr,
// per spec.md §6.1. It is synchronous: the client is dialed before this
// call returns.
func (h *Handle) ConnectNode(target addr.Address) (NodeHandle, error) {
	type result struct {
		handle NodeHandle
		err    error
	}
	resCh := make(chan result, 1)

	callErr := h.call(func(a *actor) {
		handle, err := a.connectNode(target)
		resCh <- result{handle: handle, err: err}
	})
	if callErr != nil {
		return NodeHandle{}, callErr
	}

	r := <-resCh
	return r.handle, r.err
}

// UpdateSlots is a fire-and-forget hint (spec.md §6.1) that node has
// reported a redirection consistent with observedVersion being stale; it
// arms an out-of-cadence refresh if the coordinator's version still
// matches what the caller observed. It never blocks on a response, but it
// is silently ignored if the actor has already stopped.
func (h *Handle) UpdateSlots(observedVersion int, node NodeHandle) {
	_ = h.call(func(a *actor) {
		a.onUpdateSlots(observedVersion, node)
	})
}
