// Package slotmap models a Redis Cluster slot assignment: the ordered set
// of slot ranges, each owned by a master with some replicas, and the
// coverage/replica-count checks the health classifier relies on.
package slotmap

import (
	"sort"

	"clustercoord/internal/addr"
)

// NumSlots is the number of hash slots Redis Cluster partitions the
// keyspace into.
const NumSlots = 16384

// Range is a contiguous block of slots owned by a master, plus its
// replicas. Start and Stop are inclusive.
type Range struct {
	Start    int
	Stop     int
	Master   addr.Address
	Replicas []addr.Address
}

// SlotMap is an ordered sequence of Range, sorted by Start. Canonical()
// must be called on any externally-supplied map before it is compared or
// installed as the coordinator's current map.
type SlotMap []Range

// Canonical returns a new SlotMap sorted by Start. It does not mutate sm.
func (sm SlotMap) Canonical() SlotMap {
	out := make(SlotMap, len(sm))
	copy(out, sm)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Equal reports whether two canonical slot maps are element-wise equal.
// Both arguments must already be canonical (callers always canonicalize on
// receipt, per spec.md §3).
func Equal(a, b SlotMap) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !rangeEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func rangeEqual(a, b Range) bool {
	if a.Start != b.Start || a.Stop != b.Stop || a.Master != b.Master {
		return false
	}
	if len(a.Replicas) != len(b.Replicas) {
		return false
	}
	for i := range a.Replicas {
		if a.Replicas[i] != b.Replicas[i] {
			return false
		}
	}
	return true
}

// Masters returns the set of master addresses referenced by sm.
func (sm SlotMap) Masters() map[addr.Address]struct{} {
	out := make(map[addr.Address]struct{}, len(sm))
	for _, r := range sm {
		out[r.Master] = struct{}{}
	}
	return out
}

// Addresses returns the set of every address mentioned by sm (masters and
// replicas), used by reconciliation to decide which clients to keep open.
func (sm SlotMap) Addresses() map[addr.Address]struct{} {
	out := make(map[addr.Address]struct{})
	for _, r := range sm {
		out[r.Master] = struct{}{}
		for _, rep := range r.Replicas {
			out[rep] = struct{}{}
		}
	}
	return out
}

// CoverageComplete reports whether sm (assumed canonical) forms a
// contiguous cover of [0, NumSlots): the first range starts at 0, each
// subsequent range starts at the predecessor's Stop+1, and the final
// Stop+1 == NumSlots.
func (sm SlotMap) CoverageComplete() bool {
	if len(sm) == 0 {
		return false
	}
	if sm[0].Start != 0 {
		return false
	}
	for i := 1; i < len(sm); i++ {
		if sm[i].Start != sm[i-1].Stop+1 {
			return false
		}
	}
	return sm[len(sm)-1].Stop+1 == NumSlots
}

// MinReplicaCount returns the smallest number of replicas across all
// ranges, or 0 if sm is empty.
func (sm SlotMap) MinReplicaCount() int {
	if len(sm) == 0 {
		return 0
	}
	min := -1
	for _, r := range sm {
		n := len(r.Replicas)
		if min == -1 || n < min {
			min = n
		}
	}
	return min
}
