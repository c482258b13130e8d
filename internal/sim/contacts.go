package sim

// contacts.go holds the contact plan: the immutable schedule of windows
// during which node pairs can exchange data, the queries routing needs
// answered about it, and the topology oracle that tracks which contacts
// are live at the current instant

import (
	"encoding/json"
	"os"
	"path"
	"sort"

	"github.com/iti/rngstream"
	"gopkg.in/yaml.v3"
)

// A Contact describes one communication window.  It is immutable once the
// plan is installed.  The pair is unordered for routing queries; each
// direction draws losses independently during simulation.
type Contact struct {
	Index int     `json:"index" yaml:"index"`
	A     NodeID  `json:"a" yaml:"a"`
	B     NodeID  `json:"b" yaml:"b"`
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	BwBps float64 `json:"bw_bps" yaml:"bw_bps"`
	Err   float64 `json:"err" yaml:"err"`
}

// joins reports whether the contact connects the unordered pair (u,v)
func (c *Contact) joins(u, v NodeID) bool {
	return (c.A == u && c.B == v) || (c.A == v && c.B == u)
}

// touches reports whether the contact is incident on u
func (c *Contact) touches(u NodeID) bool {
	return c.A == u || c.B == u
}

// peerOf gives the other endpoint of the contact
func (c *Contact) peerOf(u NodeID) NodeID {
	if c.A == u {
		return c.B
	}
	return c.A
}

type pairKey struct {
	lo, hi NodeID
}

func mkPairKey(u, v NodeID) pairKey {
	if u < v {
		return pairKey{lo: u, hi: v}
	}
	return pairKey{lo: v, hi: u}
}

// ContactPlan is the full schedule, sorted once by start time at install.
// byPair and byNode index into Contacts and inherit the start-time order,
// so the "next contact after t" queries are binary searches.
type ContactPlan struct {
	Contacts []Contact `json:"contacts" yaml:"contacts"`

	byPair map[pairKey][]int
	byNode map[NodeID][]int
}

// CreateContactPlan takes ownership of the contact list, sorts it by
// (start, end, pair) and builds the query indexes
func CreateContactPlan(contacts []Contact) *ContactPlan {
	cp := new(ContactPlan)
	cp.Contacts = contacts
	sort.Slice(cp.Contacts, func(i, j int) bool {
		ci, cj := &cp.Contacts[i], &cp.Contacts[j]
		if ci.Start != cj.Start {
			return ci.Start < cj.Start
		}
		if ci.End != cj.End {
			return ci.End < cj.End
		}
		ki, kj := mkPairKey(ci.A, ci.B), mkPairKey(cj.A, cj.B)
		if ki.lo != kj.lo {
			return ki.lo < kj.lo
		}
		return ki.hi < kj.hi
	})

	cp.byPair = make(map[pairKey][]int)
	cp.byNode = make(map[NodeID][]int)
	for idx := range cp.Contacts {
		c := &cp.Contacts[idx]
		c.Index = idx
		key := mkPairKey(c.A, c.B)
		cp.byPair[key] = append(cp.byPair[key], idx)
		cp.byNode[c.A] = append(cp.byNode[c.A], idx)
		cp.byNode[c.B] = append(cp.byNode[c.B], idx)
	}
	return cp
}

// GenerateContactPlan draws a schedule from the configuration using the
// dedicated plan rng stream.  Every unordered node pair is covered with the
// configured probability; covered pairs get a small batch of windows with
// uniformly drawn start, duration, bandwidth, and loss scaling.
func GenerateContactPlan(cfg *SimConfig, rng *rngstream.RngStream) *ContactPlan {
	contacts := make([]Contact, 0)

	for i := 0; i < cfg.NumNodes; i++ {
		for j := i + 1; j < cfg.NumNodes; j++ {
			if rng.RandU01() >= cfg.ContactProbability {
				continue
			}
			nContacts := rng.RandInt(2, 5)
			for k := 0; k < nContacts; k++ {
				duration := cfg.MinContactDuration +
					rng.RandU01()*(cfg.MaxContactDuration-cfg.MinContactDuration)
				start := rng.RandU01() * (cfg.SimulationTime - duration)
				bw := cfg.BandwidthRange[0] +
					rng.RandU01()*(cfg.BandwidthRange[1]-cfg.BandwidthRange[0])

				// per-contact channel quality scales the configured baseline
				err := cfg.BaseErrorRate * (0.5 + 2.5*rng.RandU01())
				if err > 1.0 {
					err = 1.0
				}

				contacts = append(contacts, Contact{
					A: NodeID(i), B: NodeID(j),
					Start: start, End: start + duration,
					BwBps: bw, Err: err,
				})
			}
		}
	}
	return CreateContactPlan(contacts)
}

// NextContact returns the earliest-starting contact on the unordered pair
// (u,v) with start >= t, or nil
func (cp *ContactPlan) NextContact(u, v NodeID, t float64) *Contact {
	idxs := cp.byPair[mkPairKey(u, v)]
	at := sort.Search(len(idxs), func(i int) bool {
		return cp.Contacts[idxs[i]].Start >= t
	})
	if at == len(idxs) {
		return nil
	}
	return &cp.Contacts[idxs[at]]
}

// NextContactFrom returns the earliest-starting contact incident on u with
// start >= t, or nil
func (cp *ContactPlan) NextContactFrom(u NodeID, t float64) *Contact {
	idxs := cp.byNode[u]
	at := sort.Search(len(idxs), func(i int) bool {
		return cp.Contacts[idxs[i]].Start >= t
	})
	if at == len(idxs) {
		return nil
	}
	return &cp.Contacts[idxs[at]]
}

// ActiveEdges returns the unordered node pairs with a contact straddling t.
// Contacts are sorted by start, so the scan is bounded by the first contact
// starting past t.
func (cp *ContactPlan) ActiveEdges(t float64) []pairKey {
	bound := sort.Search(len(cp.Contacts), func(i int) bool {
		return cp.Contacts[i].Start > t
	})
	seen := make(map[pairKey]bool)
	edges := make([]pairKey, 0)
	for idx := 0; idx < bound; idx++ {
		c := &cp.Contacts[idx]
		if c.End < t {
			continue
		}
		key := mkPairKey(c.A, c.B)
		if !seen[key] {
			seen[key] = true
			edges = append(edges, key)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].lo != edges[j].lo {
			return edges[i].lo < edges[j].lo
		}
		return edges[i].hi < edges[j].hi
	})
	return edges
}

// contactsOn returns the indexes of all contacts on the unordered pair (u,v)
func (cp *ContactPlan) contactsOn(u, v NodeID) []int {
	return cp.byPair[mkPairKey(u, v)]
}

// WriteToFile stores the plan to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (cp *ContactPlan) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*cp)
	} else {
		bytes, merr = json.MarshalIndent(*cp, "", "\t")
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0644)
}

// ReadContactPlan deserializes a byte slice holding a representation of a
// contact plan.  If the dict argument is empty the named file is read to
// acquire it.  The query indexes are rebuilt after deserialization.
func ReadContactPlan(filename string, useYAML bool, dict []byte) (*ContactPlan, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ContactPlan{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return CreateContactPlan(example.Contacts), nil
}

// Topology is the oracle answering "which edges are usable right now".
// Contact start and end events maintain the live set; routers consume the
// derived neighbor queries.  A pair-restricted view narrows the oracle to
// the single contact being serviced when a store is scanned for that peer.
type Topology struct {
	plan *ContactPlan

	// indexes of contacts currently inside their window
	live map[int]bool

	// when set, queries see only contacts on this unordered pair
	restrictTo *pairKey
}

// createTopology is a constructor
func createTopology(plan *ContactPlan) *Topology {
	return &Topology{plan: plan, live: make(map[int]bool)}
}

// contactUp and contactDown maintain the live set from contact events
func (topo *Topology) contactUp(c *Contact)   { topo.live[c.Index] = true }
func (topo *Topology) contactDown(c *Contact) { delete(topo.live, c.Index) }

// pairView returns a read-only restriction of the oracle to contacts
// joining (u,v).  The live set is shared, not copied.
func (topo *Topology) pairView(u, v NodeID) *Topology {
	key := mkPairKey(u, v)
	return &Topology{plan: topo.plan, live: topo.live, restrictTo: &key}
}

// liveContacts gives the indexes of live contacts in ascending order,
// honoring any pair restriction
func (topo *Topology) liveContacts() []int {
	idxs := make([]int, 0, len(topo.live))
	for idx := range topo.live {
		if topo.restrictTo != nil {
			c := &topo.plan.Contacts[idx]
			if mkPairKey(c.A, c.B) != *topo.restrictTo {
				continue
			}
		}
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs
}

// ActiveNeighbors returns, in ascending id order, the peers u can reach
// over a live contact at time t
func (topo *Topology) ActiveNeighbors(u NodeID, t float64) []NodeID {
	seen := make(map[NodeID]bool)
	nbrs := make([]NodeID, 0)
	for _, idx := range topo.liveContacts() {
		c := &topo.plan.Contacts[idx]
		if !c.touches(u) || t < c.Start || t > c.End {
			continue
		}
		peer := c.peerOf(u)
		if !seen[peer] {
			seen[peer] = true
			nbrs = append(nbrs, peer)
		}
	}
	sort.Slice(nbrs, func(i, j int) bool { return nbrs[i] < nbrs[j] })
	return nbrs
}

// EdgeActive reports whether some live contact joins (u,v) at time t
func (topo *Topology) EdgeActive(u, v NodeID, t float64) bool {
	for _, idx := range topo.liveContacts() {
		c := &topo.plan.Contacts[idx]
		if c.joins(u, v) && c.Start <= t && t <= c.End {
			return true
		}
	}
	return false
}
