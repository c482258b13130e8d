package sim

// bundle.go holds the Bundle data structure, the unit of application data
// routed end-to-end, and its QoS priority classes

import (
	"golang.org/x/exp/slices"
)

// NodeID identifies a simulated node
type NodeID int

// QoS is a bundle priority class.  Smaller values are more important.
type QoS int

const (
	Critical QoS = iota
	High
	Normal
	Low
)

const numQoSLevels = 4

var qosToStr map[QoS]string = map[QoS]string{
	Critical: "CRITICAL", High: "HIGH", Normal: "NORMAL", Low: "LOW"}

func (q QoS) String() string {
	return qosToStr[q]
}

// A Bundle is one copy of a logical application message.  Routing schemes
// that replicate (epidemic, spray-and-wait) clone the struct; all copies
// share ID, so delivery and deduplication are per logical bundle.  After
// creation only HopCount, Visited and Tokens change, and only by growing
// (Tokens shrink as copies split their allowance).
type Bundle struct {
	ID        int64
	Src       NodeID
	Dst       NodeID
	Size      int // bytes
	QoS       QoS
	CreatedAt float64
	Deadline  float64 // absolute, CreatedAt + TTL

	HopCount int
	Visited  []NodeID

	// spray-and-wait copy allowance; unused by the other routers
	Tokens int
}

// createBundle is a constructor
func createBundle(id int64, src, dst NodeID, size int, qos QoS, now, ttl float64, tokens int) *Bundle {
	return &Bundle{
		ID:        id,
		Src:       src,
		Dst:       dst,
		Size:      size,
		QoS:       qos,
		CreatedAt: now,
		Deadline:  now + ttl,
		Visited:   []NodeID{src},
		Tokens:    tokens,
	}
}

// clone returns an independent copy sharing the logical identity.
// The visited set is copied so the two copies diverge from here on.
func (b *Bundle) clone() *Bundle {
	nb := *b
	nb.Visited = make([]NodeID, len(b.Visited))
	copy(nb.Visited, b.Visited)
	return &nb
}

// visited reports whether the named node already appears in the visit set
func (b *Bundle) visited(id NodeID) bool {
	return slices.Contains(b.Visited, id)
}

// visit adds the named node to the visit set, once
func (b *Bundle) visit(id NodeID) {
	if !b.visited(id) {
		b.Visited = append(b.Visited, id)
	}
}

// before gives the store's total order on bundles: priority class first,
// then earliest deadline, then bundle id for determinism
func (b *Bundle) before(other *Bundle) bool {
	if b.QoS != other.QoS {
		return b.QoS < other.QoS
	}
	if b.Deadline != other.Deadline {
		return b.Deadline < other.Deadline
	}
	return b.ID < other.ID
}

// segmentCount gives the number of LTP segments needed to carry the
// bundle with the given segment size
func (b *Bundle) segmentCount(segSize int) int {
	return (b.Size + segSize - 1) / segSize
}

// segmentBytes gives the payload length of segment idx in [0, N): segSize
// for all but possibly the last
func (b *Bundle) segmentBytes(idx, segSize int) int {
	last := b.segmentCount(segSize) - 1
	if idx < last {
		return segSize
	}
	return b.Size - last*segSize
}
