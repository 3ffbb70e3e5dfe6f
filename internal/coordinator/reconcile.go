package coordinator

import (
	"time"

	"github.com/redis/go-redis/v9"

	"clustercoord/internal/addr"
	"clustercoord/internal/slotmap"
)

// reconcile is the CLUSTER SLOTS reply handler from spec.md §4.2.
//
//  1. A reply older than the currently installed version is dropped.
//  2. A transport/queue error is dropped silently (the periodic scheduler
//     retries); a Redis-side error is dropped but surfaced as
//     cluster_slots_error.
//  3. Otherwise the reply is canonicalized and compared to the current
//     map; an unchanged map is a no-op, a changed one is diffed and
//     applied atomically within this actor step.
func (a *actor) reconcile(replyVersion int, reply []redis.ClusterSlot, err error) {
	if replyVersion < a.slotMapVersion {
		return
	}

	if err != nil {
		if clusterSlotsReplyIsRedisError(err) {
			a.publish(Event{Kind: EventClusterSlotsError, Err: err})
		}
		return
	}

	next := toSlotMap(reply).Canonical()
	if slotmap.Equal(next, a.slotMap) {
		return
	}

	a.applyDiff(next, reply)
}

// toSlotMap converts a go-redis CLUSTER SLOTS reply into this package's own
// slotmap.SlotMap, treating the first node in each entry as the master and
// the rest as replicas (the shape CLUSTER SLOTS always returns it in).
func toSlotMap(reply []redis.ClusterSlot) slotmap.SlotMap {
	out := make(slotmap.SlotMap, 0, len(reply))
	for _, slot := range reply {
		if len(slot.Nodes) == 0 {
			continue
		}
		r := slotmap.Range{
			Start:  slot.Start,
			Stop:   slot.End,
			Master: nodeAddr(slot.Nodes[0]),
		}
		for _, n := range slot.Nodes[1:] {
			r.Replicas = append(r.Replicas, nodeAddr(n))
		}
		out = append(out, r)
	}
	return out
}

func nodeAddr(n redis.ClusterNode) addr.Address {
	a, err := addr.Parse(n.Addr)
	if err != nil {
		// go-redis already validated this came off the wire as host:port;
		// a parse failure here means a malformed reply, which we treat as
		// a zero-value address rather than panicking the actor.
		return addr.Address{}
	}
	return a
}

// applyDiff performs the node open/retain/schedule-removal steps of
// spec.md §4.2 and installs the new map.
func (a *actor) applyDiff(next slotmap.SlotMap, rawReply []redis.ClusterSlot) {
	newAddrs := next.Addresses()
	newMasters := next.Masters()

	candidatesForRemoval := make(map[addr.Address]struct{})
	for existing := range a.nodes {
		if a.isInitialNode(existing) {
			continue
		}
		if _, stillReferenced := newAddrs[existing]; stillReferenced {
			continue
		}
		if _, stillUp := a.up[existing]; stillUp {
			// Retained: a transient map that omits a currently reachable
			// node is tolerated (spec.md §4.2 note on cluster startup).
			continue
		}
		candidatesForRemoval[existing] = struct{}{}
	}

	for target := range newAddrs {
		if _, exists := a.nodes[target]; !exists {
			if _, err := a.openNode(target); err != nil {
				a.log("reconcile: failed to open %s: %v", target, err)
			}
		}
	}

	for target := range candidatesForRemoval {
		a.scheduleNodeClose(target)
	}

	a.publish(Event{Kind: EventSlotMapUpdated, SlotMap: next, SlotMapVersion: a.slotMapVersion + 1})

	a.slotMapVersion++
	a.slotMap = next
	a.masters = newMasters
	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordVersion(a.slotMapVersion)
	}

	a.reclassify()
}

// scheduleNodeClose removes target from the live nodes map immediately but
// delays actually stopping its client by close_wait, so in-flight replies
// destined for it are not lost (spec.md §4.2). A generation counter guards
// against a node being re-opened under the same address before the delayed
// stop fires.
func (a *actor) scheduleNodeClose(target addr.Address) {
	entry, ok := a.nodes[target]
	if !ok {
		return
	}
	delete(a.nodes, target)
	delete(a.up, target)
	delete(a.queueFull, target)

	gen := entry.gen
	client := entry.client
	mailbox := a.mailbox
	done := a.done
	wait := a.opts.CloseWait

	time.AfterFunc(wait, func() {
		select {
		case mailbox <- func(a *actor) { a.closeIfSameGeneration(target, gen, client) }:
		case <-done:
			// Actor already gone; stop the client directly since nobody
			// will drain the mailbox closure above.
			client.Stop()
		}
	})
}

func (a *actor) closeIfSameGeneration(target addr.Address, gen uint64, client interface{ Stop() }) {
	if current, ok := a.nodes[target]; ok && current.gen == gen {
		// The very entry being closed is still registered under the same
		// generation, so it is live and must not be torn down. A re-open
		// gets a new generation, and then the captured stale client is
		// stopped below.
		return
	}
	client.Stop()
}
