package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustercoord/internal/addr"
	"clustercoord/internal/slotmap"
)

func twoRangeMap(replicasA, replicasB int) slotmap.SlotMap {
	repA := make([]addr.Address, replicasA)
	for i := range repA {
		repA[i] = addr.New("rep-a", 7000+i)
	}
	repB := make([]addr.Address, replicasB)
	for i := range repB {
		repB[i] = addr.New("rep-b", 7100+i)
	}
	return slotmap.SlotMap{
		{Start: 0, Stop: 8191, Master: addr.New("master-a", 6379), Replicas: repA},
		{Start: 8192, Stop: 16383, Master: addr.New("master-b", 6379), Replicas: repB},
	}
}

func newTestState() *state {
	st := newState(nil, Options{}.withDefaults())
	return &st
}

func TestClassifyTooFewNodes(t *testing.T) {
	st := newTestState()
	st.slotMap = slotmap.SlotMap{}
	assert.Equal(t, ReasonTooFewNodes, classify(st))

	st.slotMap = slotmap.SlotMap{{Start: 0, Stop: 16383, Master: addr.New("a", 6379)}}
	assert.Equal(t, ReasonTooFewNodes, classify(st))
}

func TestClassifyNotAllSlotsCovered(t *testing.T) {
	st := newTestState()
	st.slotMap = slotmap.SlotMap{
		{Start: 0, Stop: 8000, Master: addr.New("a", 6379), Replicas: []addr.Address{addr.New("ra", 6379)}},
		{Start: 8192, Stop: 16383, Master: addr.New("b", 6379), Replicas: []addr.Address{addr.New("rb", 6379)}},
	}
	assert.Equal(t, ReasonNotAllSlotsCovered, classify(st))
}

func TestClassifyTooFewReplicas(t *testing.T) {
	st := newTestState()
	st.slotMap = twoRangeMap(0, 0)
	st.opts.MinReplicas = 1
	st.up = map[addr.Address]struct{}{
		addr.New("master-a", 6379): {},
		addr.New("master-b", 6379): {},
	}
	st.masters = st.slotMap.Masters()
	assert.Equal(t, ReasonTooFewReplicas, classify(st))
}

func TestClassifyMasterDown(t *testing.T) {
	st := newTestState()
	st.slotMap = twoRangeMap(1, 1)
	st.opts.MinReplicas = 1
	st.masters = st.slotMap.Masters()
	// master-b never reported up
	st.up = map[addr.Address]struct{}{
		addr.New("master-a", 6379): {},
	}
	assert.Equal(t, ReasonMasterDown, classify(st))
}

func TestClassifyMasterQueueFull(t *testing.T) {
	st := newTestState()
	st.slotMap = twoRangeMap(1, 1)
	st.opts.MinReplicas = 1
	st.masters = st.slotMap.Masters()
	st.up = map[addr.Address]struct{}{
		addr.New("master-a", 6379): {},
		addr.New("master-b", 6379): {},
	}
	st.queueFull = map[addr.Address]struct{}{
		addr.New("master-b", 6379): {},
	}
	assert.Equal(t, ReasonMasterQueueFull, classify(st))
}

func TestClassifyOK(t *testing.T) {
	st := newTestState()
	st.slotMap = twoRangeMap(1, 1)
	st.opts.MinReplicas = 1
	st.masters = st.slotMap.Masters()
	st.up = map[addr.Address]struct{}{
		addr.New("master-a", 6379): {},
		addr.New("master-b", 6379): {},
	}
	assert.Equal(t, ReasonOK, classify(st))
}

// TestReclassifyEdgeTriggered exercises the OK<->NOK transition rules
// directly (scenario S6): a reason change while staying NOK must not
// re-publish cluster_nok, only the initial OK->NOK edge does.
func TestReclassifyEdgeTriggered(t *testing.T) {
	a := newBareActor()
	recorder := &eventCollector{}
	a.sinks = []*observerSink{newObserverSink(recorder)}

	a.slotMap = twoRangeMap(1, 1)
	a.opts.MinReplicas = 1
	a.masters = a.slotMap.Masters()
	a.up = map[addr.Address]struct{}{
		addr.New("master-a", 6379): {},
		addr.New("master-b", 6379): {},
	}
	a.clusterState = StateOK // simulate a previously healthy coordinator

	// Drop a replica count to zero: reason becomes too_few_replicas, an
	// OK->NOK edge, which must publish exactly once.
	a.slotMap = twoRangeMap(0, 0)
	a.reclassify()
	assert.Equal(t, StateNOK, a.clusterState)

	// A later NOK tick (a master now also down; too_few_replicas still
	// ranks first) keeps the scheduler armed but must not publish a second
	// cluster_nok.
	delete(a.up, addr.New("master-a", 6379))
	a.reclassify()

	events := recorder.waitForCount(t, 1, time.Second)
	time.Sleep(20 * time.Millisecond) // give a stray second publish a chance to land
	events = recorder.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, EventClusterNOK, events[0].Kind)
	assert.Equal(t, ReasonTooFewReplicas, events[0].Reason)
}
