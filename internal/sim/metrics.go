package sim

// metrics.go holds the metrics collector and the result records handed to
// external collaborators at the end of a run: a summary of final counters,
// the timeline of periodic snapshots, and one record per node

import (
	"encoding/json"
	"os"
	"path"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// NodeStats accumulates the per-node counters
type NodeStats struct {
	Generated       int     `json:"generated" yaml:"generated"`
	Delivered       int     `json:"delivered" yaml:"delivered"` // as destination
	Transmitted     int     `json:"transmitted" yaml:"transmitted"`
	Received        int     `json:"received" yaml:"received"`
	DroppedEviction int     `json:"dropped_eviction" yaml:"dropped_eviction"`
	DroppedExpiry   int     `json:"dropped_expiry" yaml:"dropped_expiry"`
	CumLatency      float64 `json:"-" yaml:"-"`
}

// A SnapshotRecord is one entry of the metrics timeline
type SnapshotRecord struct {
	Timestamp            float64 `json:"timestamp" yaml:"timestamp"`
	Delivered            int     `json:"delivered" yaml:"delivered"`
	Generated            int     `json:"generated" yaml:"generated"`
	AvgLatency           float64 `json:"avg_latency" yaml:"avg_latency"`
	AvgBufferUtilization float64 `json:"avg_buffer_utilization" yaml:"avg_buffer_utilization"`
}

// A NodeRecord is the end-of-run report for one node
type NodeRecord struct {
	ID                   NodeID  `json:"id" yaml:"id"`
	Generated            int     `json:"generated" yaml:"generated"`
	Delivered            int     `json:"delivered" yaml:"delivered"`
	Transmitted          int     `json:"transmitted" yaml:"transmitted"`
	Received             int     `json:"received" yaml:"received"`
	DroppedEviction      int     `json:"dropped_eviction" yaml:"dropped_eviction"`
	DroppedExpiry        int     `json:"dropped_expiry" yaml:"dropped_expiry"`
	FinalBufferOccupancy int     `json:"final_buffer_occupancy" yaml:"final_buffer_occupancy"`
	AvgLatency           float64 `json:"avg_latency" yaml:"avg_latency"`
}

// A SummaryRecord holds the global final counters and the ratios derived
// from them
type SummaryRecord struct {
	Generated       int `json:"bundles_generated" yaml:"bundles_generated"`
	Delivered       int `json:"bundles_delivered" yaml:"bundles_delivered"`
	DroppedEviction int `json:"bundles_dropped_eviction" yaml:"bundles_dropped_eviction"`
	DroppedExpiry   int `json:"bundles_dropped_expiry" yaml:"bundles_dropped_expiry"`

	SegmentsSent    int `json:"segments_sent" yaml:"segments_sent"`
	SegmentsLost    int `json:"segments_lost" yaml:"segments_lost"`
	Retransmissions int `json:"retransmissions" yaml:"retransmissions"`

	SessionsOpened    int `json:"sessions_opened" yaml:"sessions_opened"`
	SessionsDelivered int `json:"sessions_delivered" yaml:"sessions_delivered"`
	SessionsFailed    int `json:"sessions_failed" yaml:"sessions_failed"`
	SessionsSuspended int `json:"sessions_suspended" yaml:"sessions_suspended"`

	CumLatency           float64 `json:"cumulative_latency" yaml:"cumulative_latency"`
	DeliveryRatio        float64 `json:"delivery_ratio" yaml:"delivery_ratio"`
	AvgLatency           float64 `json:"avg_latency" yaml:"avg_latency"`
	AvgBufferUtilization float64 `json:"avg_buffer_utilization" yaml:"avg_buffer_utilization"`
}

// Results is the complete artifact a run emits: the configuration it ran
// under, the summary, the snapshot timeline, the per-node records, and the
// contact plan the run used
type Results struct {
	Config   *SimConfig       `json:"configuration" yaml:"configuration"`
	Summary  SummaryRecord    `json:"summary" yaml:"summary"`
	Timeline []SnapshotRecord `json:"timeline" yaml:"timeline"`
	PerNode  []NodeRecord     `json:"per_node" yaml:"per_node"`
	Plan     *ContactPlan     `json:"contact_plan" yaml:"contact_plan"`
}

// WriteToFile stores the Results struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (res *Results) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*res)
	} else {
		bytes, merr = json.MarshalIndent(*res, "", "\t")
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0644)
}

// MetricsCollector accumulates the global counters.  Delivery and expiry
// are tracked per logical bundle id: the first arriving copy counts the
// delivery, and an expiry is charged once however many copies lapse.
// Eviction is charged per evicted copy.
type MetricsCollector struct {
	Generated       int
	Delivered       int
	DroppedEviction int
	DroppedExpiry   int

	SegmentsSent    int
	SegmentsLost    int
	Retransmissions int

	SessionsOpened    int
	SessionsDelivered int
	SessionsFailed    int
	SessionsSuspended int

	CumLatency float64

	deliveredIDs map[int64]bool
	expiredIDs   map[int64]bool

	buffSamples []float64
	timeline    []SnapshotRecord
}

// createMetricsCollector is a constructor
func createMetricsCollector() *MetricsCollector {
	mc := new(MetricsCollector)
	mc.deliveredIDs = make(map[int64]bool)
	mc.expiredIDs = make(map[int64]bool)
	mc.buffSamples = make([]float64, 0)
	mc.timeline = make([]SnapshotRecord, 0)
	return mc
}

// recordGenerated counts a bundle id admitted to its first store
func (mc *MetricsCollector) recordGenerated(b *Bundle) {
	mc.Generated++
}

// recordDelivered counts the first copy of a bundle reaching its
// destination; the return reports whether this copy was the first
func (mc *MetricsCollector) recordDelivered(b *Bundle, t float64) bool {
	if mc.deliveredIDs[b.ID] {
		return false
	}
	mc.deliveredIDs[b.ID] = true
	mc.Delivered++
	mc.CumLatency += t - b.CreatedAt
	return true
}

func (mc *MetricsCollector) wasDelivered(id int64) bool {
	return mc.deliveredIDs[id]
}

// recordEviction counts one evicted copy
func (mc *MetricsCollector) recordEviction(b *Bundle) {
	mc.DroppedEviction++
}

// recordExpiry charges the expiry of a bundle id once, and only if no copy
// was ever delivered
func (mc *MetricsCollector) recordExpiry(id int64) {
	if mc.deliveredIDs[id] || mc.expiredIDs[id] {
		return
	}
	mc.expiredIDs[id] = true
	mc.DroppedExpiry++
}

// snapshot samples the buffer occupancy across nodes and appends a record
// to the timeline
func (mc *MetricsCollector) snapshot(t float64, nodes []*Node) {
	var occ float64
	for _, node := range nodes {
		occ += float64(node.store.size()) / float64(node.store.capacity)
	}
	if len(nodes) > 0 {
		occ /= float64(len(nodes))
	}
	mc.buffSamples = append(mc.buffSamples, occ)

	rec := SnapshotRecord{
		Timestamp:            t,
		Delivered:            mc.Delivered,
		Generated:            mc.Generated,
		AvgLatency:           mc.avgLatency(),
		AvgBufferUtilization: occ,
	}
	mc.timeline = append(mc.timeline, rec)
}

func (mc *MetricsCollector) avgLatency() float64 {
	if mc.Delivered == 0 {
		return 0.0
	}
	return mc.CumLatency / float64(mc.Delivered)
}

// summary folds the counters into the final SummaryRecord
func (mc *MetricsCollector) summary() SummaryRecord {
	sr := SummaryRecord{
		Generated:         mc.Generated,
		Delivered:         mc.Delivered,
		DroppedEviction:   mc.DroppedEviction,
		DroppedExpiry:     mc.DroppedExpiry,
		SegmentsSent:      mc.SegmentsSent,
		SegmentsLost:      mc.SegmentsLost,
		Retransmissions:   mc.Retransmissions,
		SessionsOpened:    mc.SessionsOpened,
		SessionsDelivered: mc.SessionsDelivered,
		SessionsFailed:    mc.SessionsFailed,
		SessionsSuspended: mc.SessionsSuspended,
		CumLatency:        mc.CumLatency,
		AvgLatency:        mc.avgLatency(),
	}
	if mc.Generated > 0 {
		sr.DeliveryRatio = float64(mc.Delivered) / float64(mc.Generated)
	}
	if len(mc.buffSamples) > 0 {
		sr.AvgBufferUtilization = stat.Mean(mc.buffSamples, nil)
	}
	return sr
}
