package sim

// store.go implements the per-node bundle custody buffer.  The buffer is
// bounded and priority ordered; insertion order plays no role in selection.
// Admission at capacity preempts the least important resident when the
// incoming bundle outranks it, otherwise the incoming bundle bounces.

import (
	"sort"
)

// bundleStore is the bounded custody buffer of one node.  The bundles slice
// is kept sorted by the (priority, deadline, id) total order so the head is
// always the most important resident.
type bundleStore struct {
	capacity int
	bundles  []*Bundle
}

// createBundleStore is a constructor
func createBundleStore(capacity int) *bundleStore {
	return &bundleStore{capacity: capacity, bundles: make([]*Bundle, 0, capacity)}
}

func (bs *bundleStore) size() int {
	return len(bs.bundles)
}

// contains reports whether a copy with the given logical id is resident
func (bs *bundleStore) contains(id int64) bool {
	for _, b := range bs.bundles {
		if b.ID == id {
			return true
		}
	}
	return false
}

// insert places b at its ordered position
func (bs *bundleStore) insert(b *Bundle) {
	at := sort.Search(len(bs.bundles), func(i int) bool {
		return b.before(bs.bundles[i])
	})
	bs.bundles = append(bs.bundles, nil)
	copy(bs.bundles[at+1:], bs.bundles[at:])
	bs.bundles[at] = b
}

// admit offers b to the store.  The return is (nil, true) on a plain
// insert.  At capacity the least important resident is located: worst
// priority class, ties broken by the deadline furthest in the future, then
// by highest id.  If b strictly outranks that victim the victim is evicted
// and returned; otherwise b itself is the victim and is returned unstored.
func (bs *bundleStore) admit(b *Bundle) (evicted *Bundle, stored bool) {
	if len(bs.bundles) < bs.capacity {
		bs.insert(b)
		return nil, true
	}

	// the sort order puts the least important resident last
	victim := bs.bundles[len(bs.bundles)-1]
	if victim.QoS <= b.QoS {
		// incoming does not strictly outrank any resident
		return b, false
	}
	bs.bundles = bs.bundles[:len(bs.bundles)-1]
	bs.insert(b)
	return victim, true
}

// remove takes the copy with the given id out of the store and returns it,
// or nil if no such copy is resident
func (bs *bundleStore) remove(id int64) *Bundle {
	for idx, b := range bs.bundles {
		if b.ID == id {
			bs.bundles = append(bs.bundles[:idx], bs.bundles[idx+1:]...)
			return b
		}
	}
	return nil
}

// expire removes and returns every resident whose deadline is at or before t
func (bs *bundleStore) expire(t float64) []*Bundle {
	expired := make([]*Bundle, 0)
	kept := bs.bundles[:0]
	for _, b := range bs.bundles {
		if b.Deadline <= t {
			expired = append(expired, b)
		} else {
			kept = append(kept, b)
		}
	}
	bs.bundles = kept
	return expired
}

// peekForPeer returns the most important resident the router would forward
// to the named peer at time t, or nil.  Bundles that already visited the
// peer, or whose hop count reached the cap, are passed over.  The topology
// argument is the pair-restricted view for the contact being serviced.
func (bs *bundleStore) peekForPeer(peer NodeID, at NodeID, router Router, topo *Topology,
	t float64, maxHops int) *Bundle {

	for _, b := range bs.bundles {
		if b.visited(peer) || b.HopCount >= maxHops {
			continue
		}
		nxt, ok := router.SelectNextHop(b, at, topo, t)
		if ok && nxt == peer {
			return b
		}
	}
	return nil
}

// ordered returns the residents in store order; the caller must not mutate
func (bs *bundleStore) ordered() []*Bundle {
	return bs.bundles
}
