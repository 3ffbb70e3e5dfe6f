package slotmap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"clustercoord/internal/addr"
)

func a(port int) addr.Address { return addr.New("10.0.0.1", port) }

func TestCanonicalSorts(t *testing.T) {
	sm := SlotMap{
		{Start: 8192, Stop: 16383, Master: a(2)},
		{Start: 0, Stop: 8191, Master: a(1)},
	}
	out := sm.Canonical()
	assert.Equal(t, 0, out[0].Start)
	assert.Equal(t, 8192, out[1].Start)
	// original slice untouched
	assert.Equal(t, 8192, sm[0].Start)
}

func TestEqual(t *testing.T) {
	sm1 := SlotMap{{Start: 0, Stop: 16383, Master: a(1), Replicas: []addr.Address{a(2)}}}
	sm2 := SlotMap{{Start: 0, Stop: 16383, Master: a(1), Replicas: []addr.Address{a(2)}}}
	sm3 := SlotMap{{Start: 0, Stop: 16383, Master: a(1), Replicas: []addr.Address{a(3)}}}

	assert.True(t, Equal(sm1, sm2))
	assert.False(t, Equal(sm1, sm3))
	assert.False(t, Equal(sm1, SlotMap{}))
}

func TestCoverageComplete(t *testing.T) {
	complete := SlotMap{
		{Start: 0, Stop: 8191, Master: a(1)},
		{Start: 8192, Stop: 16383, Master: a(2)},
	}
	assert.True(t, complete.CoverageComplete())

	gap := SlotMap{
		{Start: 0, Stop: 8190, Master: a(1)},
		{Start: 8192, Stop: 16383, Master: a(2)},
	}
	assert.False(t, gap.CoverageComplete())

	assert.False(t, SlotMap{}.CoverageComplete())
}

func TestMinReplicaCount(t *testing.T) {
	sm := SlotMap{
		{Start: 0, Stop: 100, Master: a(1), Replicas: []addr.Address{a(2), a(3)}},
		{Start: 101, Stop: 200, Master: a(4), Replicas: []addr.Address{a(5)}},
	}
	assert.Equal(t, 1, sm.MinReplicaCount())
	assert.Equal(t, 0, SlotMap{}.MinReplicaCount())
}

func TestMastersAndAddresses(t *testing.T) {
	sm := SlotMap{
		{Start: 0, Stop: 100, Master: a(1), Replicas: []addr.Address{a(2)}},
		{Start: 101, Stop: 200, Master: a(3), Replicas: []addr.Address{a(2)}},
	}
	masters := sm.Masters()
	assert.Len(t, masters, 2)
	assert.Contains(t, masters, a(1))
	assert.Contains(t, masters, a(3))

	addrs := sm.Addresses()
	assert.Len(t, addrs, 3)
	assert.Contains(t, addrs, a(2))
}
