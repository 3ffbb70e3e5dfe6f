package coordinator

import (
	"context"

	"clustercoord/internal/addr"
	"clustercoord/internal/nodeclient"
)

// openNode dials target and registers it in nodes, wiring its status
// callback back into this actor's mailbox. It is idempotent: calling it on
// an address that is already open returns the existing entry.
func (a *actor) openNode(target addr.Address) (*nodeEntry, error) {
	if entry, ok := a.nodes[target]; ok {
		return entry, nil
	}

	a.nextGen++
	gen := a.nextGen

	mailbox := a.mailbox
	done := a.done

	onStatus := func(ev nodeclient.StatusEvent) {
		select {
		case mailbox <- func(a *actor) { a.handleStatus(target, gen, ev) }:
		case <-done:
		}
	}

	client, err := nodeclient.Start(context.Background(), target, a.opts.ClientOpts, onStatus)
	if err != nil {
		return nil, err
	}

	entry := &nodeEntry{client: client, gen: gen}
	a.nodes[target] = entry
	return entry, nil
}

// handleStatus applies a connection_status event from the node client at
// target, per spec.md §6.2/§9: only connection_down with a non-benign reason
// removes the address from up. gen guards against a stale client (one
// already superseded by a reopen of the same address) reporting after the
// fact.
func (a *actor) handleStatus(target addr.Address, gen uint64, ev nodeclient.StatusEvent) {
	current, ok := a.nodes[target]
	if !ok || current.gen != gen {
		return
	}

	switch ev.Kind {
	case nodeclient.EventUp:
		a.up[target] = struct{}{}
	case nodeclient.EventDown:
		if ev.Reason != nodeclient.ReasonSocketClosed {
			delete(a.up, target)
		}
	case nodeclient.EventQueueFull:
		a.queueFull[target] = struct{}{}
	case nodeclient.EventQueueOK:
		delete(a.queueFull, target)
	}

	a.reclassify()

	_, isMaster := a.masters[target]
	a.publish(Event{
		Kind:     EventConnectionStatus,
		Addr:     target,
		Status:   ev,
		IsMaster: isMaster,
	})
}

// connectNode is the actor-side handler for the public ConnectNode
// operation (spec.md §6.1): insert-if-absent, returning a handle to the
// node regardless of whether it was newly opened.
func (a *actor) connectNode(target addr.Address) (NodeHandle, error) {
	if _, err := a.openNode(target); err != nil {
		return NodeHandle{}, err
	}
	return NodeHandle{addr: target}, nil
}
