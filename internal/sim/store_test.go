package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkBundle(id int64, qos QoS, deadline float64) *Bundle {
	return &Bundle{ID: id, Src: 0, Dst: 9, Size: 1024, QoS: qos,
		CreatedAt: 0.0, Deadline: deadline, Visited: []NodeID{0}}
}

func TestStoreOrdering(t *testing.T) {
	bs := createBundleStore(10)

	bs.insert(mkBundle(1, Low, 50.0))
	bs.insert(mkBundle(2, Critical, 200.0))
	bs.insert(mkBundle(3, Normal, 100.0))
	bs.insert(mkBundle(4, Critical, 100.0))

	got := make([]int64, 0)
	for _, b := range bs.ordered() {
		got = append(got, b.ID)
	}
	// critical first, earlier deadline first within a class
	assert.Equal(t, []int64{4, 2, 3, 1}, got)
}

func TestStoreOrderingIgnoresInsertionOrder(t *testing.T) {
	a := createBundleStore(10)
	b := createBundleStore(10)

	bundles := []*Bundle{
		mkBundle(1, Normal, 80.0),
		mkBundle(2, High, 90.0),
		mkBundle(3, Normal, 60.0),
	}
	for _, bd := range bundles {
		a.insert(bd)
	}
	for idx := len(bundles) - 1; idx >= 0; idx-- {
		b.insert(bundles[idx])
	}
	assert.Equal(t, a.ordered(), b.ordered())
}

func TestStoreEvictionPrefersWorstPriorityLatestDeadline(t *testing.T) {
	// capacity 2 holding two NORMAL bundles; a CRITICAL arrival evicts the
	// one whose deadline is furthest out
	bs := createBundleStore(2)
	bs.insert(mkBundle(1, Normal, 100.0))
	bs.insert(mkBundle(2, Normal, 200.0))

	crit := mkBundle(3, Critical, 150.0)
	victim, stored := bs.admit(crit)

	require.True(t, stored)
	require.NotNil(t, victim)
	assert.Equal(t, int64(2), victim.ID)
	assert.Equal(t, 2, bs.size())
	assert.True(t, bs.contains(3))
	assert.True(t, bs.contains(1))
}

func TestStoreAdmitRejectsWhenNotStrictlyBetter(t *testing.T) {
	bs := createBundleStore(2)
	bs.insert(mkBundle(1, Normal, 100.0))
	bs.insert(mkBundle(2, Normal, 200.0))

	// same class as the residents: the incoming bundle itself bounces
	in := mkBundle(3, Normal, 50.0)
	victim, stored := bs.admit(in)

	assert.False(t, stored)
	require.NotNil(t, victim)
	assert.Equal(t, int64(3), victim.ID)
	assert.Equal(t, 2, bs.size())
	assert.False(t, bs.contains(3))
}

func TestStoreAdmitRemoveRoundTrip(t *testing.T) {
	bs := createBundleStore(5)
	bs.insert(mkBundle(1, High, 40.0))
	bs.insert(mkBundle(2, Low, 300.0))

	before := make([]int64, 0)
	for _, b := range bs.ordered() {
		before = append(before, b.ID)
	}

	_, stored := bs.admit(mkBundle(7, Normal, 90.0))
	require.True(t, stored)
	removed := bs.remove(7)
	require.NotNil(t, removed)
	assert.Equal(t, int64(7), removed.ID)

	after := make([]int64, 0)
	for _, b := range bs.ordered() {
		after = append(after, b.ID)
	}
	assert.Equal(t, before, after)
}

func TestStoreRemoveMissing(t *testing.T) {
	bs := createBundleStore(2)
	assert.Nil(t, bs.remove(42))
}

func TestStoreExpire(t *testing.T) {
	bs := createBundleStore(5)
	bs.insert(mkBundle(1, Normal, 10.0))
	bs.insert(mkBundle(2, Normal, 20.0))
	bs.insert(mkBundle(3, Critical, 30.0))

	expired := bs.expire(20.0)
	require.Len(t, expired, 2)
	assert.Equal(t, 1, bs.size())
	assert.True(t, bs.contains(3))
}

func TestStoreCapacityNeverExceeded(t *testing.T) {
	bs := createBundleStore(3)
	for id := int64(1); id <= 20; id++ {
		bs.admit(mkBundle(id, QoS(id%4), float64(100+id)))
		assert.LessOrEqual(t, bs.size(), 3)
	}
}
