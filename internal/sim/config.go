package sim

// config.go holds the SimConfig structure describing one simulation
// experiment, along with its validation and (de)serialization support

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// A ConfigError reports an option whose value cannot be used to build a
// simulation.  It is the only error class that aborts a run.
type ConfigError struct {
	Option string
	Reason string
}

func (ce *ConfigError) Error() string {
	return fmt.Sprintf("config option %s: %s", ce.Option, ce.Reason)
}

func cfgErr(option, reason string, args ...any) *ConfigError {
	return &ConfigError{Option: option, Reason: fmt.Sprintf(reason, args...)}
}

// SimConfig gathers every recognized option of an experiment.  The
// mapstructure tags bind the option names used by viper at the CLI layer,
// the json/yaml tags support writing the configuration into result reports.
type SimConfig struct {
	NumNodes int `mapstructure:"num_nodes" json:"num_nodes" yaml:"num_nodes"`

	// horizon of the simulation, in seconds
	SimulationTime float64 `mapstructure:"simulation_time" json:"simulation_time" yaml:"simulation_time"`

	// bundles per node buffer
	MaxBufferSize int `mapstructure:"max_buffer_size" json:"max_buffer_size" yaml:"max_buffer_size"`

	// bytes per LTP segment
	LtpSegmentSize int `mapstructure:"ltp_segment_size" json:"ltp_segment_size" yaml:"ltp_segment_size"`

	// number of QoS classes.  Fixed mapping onto CRITICAL/HIGH/NORMAL/LOW
	QosPriorityLevels int `mapstructure:"qos_priority_levels" json:"qos_priority_levels" yaml:"qos_priority_levels"`

	// mean bundles per second generated at each node
	BundleGenerationRate float64 `mapstructure:"bundle_generation_rate" json:"bundle_generation_rate" yaml:"bundle_generation_rate"`

	// [min, max] bundle payload size in bytes
	BundleSizeRange []int `mapstructure:"bundle_size_range" json:"bundle_size_range" yaml:"bundle_size_range"`

	// bundle lifetime relative to creation, in seconds
	BundleTTL float64 `mapstructure:"bundle_ttl" json:"bundle_ttl" yaml:"bundle_ttl"`

	// probability a node pair is covered by contacts at all
	ContactProbability float64 `mapstructure:"contact_probability" json:"contact_probability" yaml:"contact_probability"`

	MinContactDuration float64 `mapstructure:"min_contact_duration" json:"min_contact_duration" yaml:"min_contact_duration"`
	MaxContactDuration float64 `mapstructure:"max_contact_duration" json:"max_contact_duration" yaml:"max_contact_duration"`

	// baseline per-segment loss probability; individual contacts scale it
	BaseErrorRate float64 `mapstructure:"base_error_rate" json:"base_error_rate" yaml:"base_error_rate"`

	// [min, max] contact bandwidth in bits per second
	BandwidthRange []float64 `mapstructure:"bandwidth_range" json:"bandwidth_range" yaml:"bandwidth_range"`

	// one of "epidemic", "spray_and_wait", "predictive"
	RouterKind string `mapstructure:"router_kind" json:"router_kind" yaml:"router_kind"`

	// initial copy allowance, used only by spray_and_wait
	SprayTokenBudget int `mapstructure:"spray_token_budget" json:"spray_token_budget" yaml:"spray_token_budget"`

	// per-segment retransmission cap before a session fails
	MaxLtpRetries int `mapstructure:"max_ltp_retries" json:"max_ltp_retries" yaml:"max_ltp_retries"`

	MetricsSnapshotInterval float64 `mapstructure:"metrics_snapshot_interval" json:"metrics_snapshot_interval" yaml:"metrics_snapshot_interval"`

	RandomSeed int64 `mapstructure:"random_seed" json:"random_seed" yaml:"random_seed"`

	// one-way signal propagation delay applied to every contact, in seconds.
	// Zero is a legitimate model
	PropagationDelay float64 `mapstructure:"propagation_delay" json:"propagation_delay" yaml:"propagation_delay"`

	// a bundle whose hop count reached this cap is no longer forwarded
	MaxHopCount int `mapstructure:"max_hop_count" json:"max_hop_count" yaml:"max_hop_count"`
}

// DefaultConfig returns a SimConfig populated with the defaults of every
// option.  The caller overwrites whatever the experiment specifies.
func DefaultConfig() *SimConfig {
	return &SimConfig{
		NumNodes:                8,
		SimulationTime:          500.0,
		MaxBufferSize:           50,
		LtpSegmentSize:          1024,
		QosPriorityLevels:       4,
		BundleGenerationRate:    0.1,
		BundleSizeRange:         []int{512, 4096},
		BundleTTL:               300.0,
		ContactProbability:      0.6,
		MinContactDuration:      10.0,
		MaxContactDuration:      60.0,
		BaseErrorRate:           0.01,
		BandwidthRange:          []float64{50e6, 100e6},
		RouterKind:              "epidemic",
		SprayTokenBudget:        4,
		MaxLtpRetries:           5,
		MetricsSnapshotInterval: 100.0,
		RandomSeed:              45,
		PropagationDelay:        0.0,
		MaxHopCount:             10,
	}
}

// Validate checks every option for usability.  The first offending option is
// reported as a ConfigError; nothing has been built yet when it is raised.
func (cfg *SimConfig) Validate() error {
	if cfg.NumNodes < 2 {
		return cfgErr("num_nodes", "need at least 2 nodes, have %d", cfg.NumNodes)
	}
	if cfg.SimulationTime <= 0.0 {
		return cfgErr("simulation_time", "must be positive, have %g", cfg.SimulationTime)
	}
	if cfg.MaxBufferSize < 1 {
		return cfgErr("max_buffer_size", "must hold at least one bundle, have %d", cfg.MaxBufferSize)
	}
	if cfg.LtpSegmentSize < 1 {
		return cfgErr("ltp_segment_size", "must be positive, have %d", cfg.LtpSegmentSize)
	}
	if cfg.QosPriorityLevels != numQoSLevels {
		return cfgErr("qos_priority_levels", "only the fixed %d-level mapping is supported, have %d",
			numQoSLevels, cfg.QosPriorityLevels)
	}
	if cfg.BundleGenerationRate < 0.0 {
		return cfgErr("bundle_generation_rate", "cannot be negative, have %g", cfg.BundleGenerationRate)
	}
	if len(cfg.BundleSizeRange) != 2 {
		return cfgErr("bundle_size_range", "expect [min, max], have %v", cfg.BundleSizeRange)
	}
	if cfg.BundleSizeRange[0] < 1 || cfg.BundleSizeRange[1] < cfg.BundleSizeRange[0] {
		return cfgErr("bundle_size_range", "need 1 <= min <= max, have %v", cfg.BundleSizeRange)
	}
	if cfg.BundleTTL <= 0.0 {
		return cfgErr("bundle_ttl", "must be positive, have %g", cfg.BundleTTL)
	}
	if cfg.ContactProbability < 0.0 || cfg.ContactProbability > 1.0 {
		return cfgErr("contact_probability", "must lie in [0,1], have %g", cfg.ContactProbability)
	}
	if cfg.MinContactDuration <= 0.0 || cfg.MaxContactDuration < cfg.MinContactDuration {
		return cfgErr("min_contact_duration", "need 0 < min <= max, have [%g, %g]",
			cfg.MinContactDuration, cfg.MaxContactDuration)
	}
	if cfg.MaxContactDuration > cfg.SimulationTime {
		return cfgErr("max_contact_duration", "exceeds the simulation horizon %g", cfg.SimulationTime)
	}
	if cfg.BaseErrorRate < 0.0 || cfg.BaseErrorRate > 1.0 {
		return cfgErr("base_error_rate", "must lie in [0,1], have %g", cfg.BaseErrorRate)
	}
	if len(cfg.BandwidthRange) != 2 {
		return cfgErr("bandwidth_range", "expect [min, max], have %v", cfg.BandwidthRange)
	}
	if cfg.BandwidthRange[0] <= 0.0 || cfg.BandwidthRange[1] < cfg.BandwidthRange[0] {
		return cfgErr("bandwidth_range", "need 0 < min <= max, have %v", cfg.BandwidthRange)
	}
	switch cfg.RouterKind {
	case RouterEpidemic, RouterSprayAndWait, RouterPredictive:
	default:
		return cfgErr("router_kind", "unknown kind %q", cfg.RouterKind)
	}
	if cfg.RouterKind == RouterSprayAndWait && cfg.SprayTokenBudget < 1 {
		return cfgErr("spray_token_budget", "must be at least 1, have %d", cfg.SprayTokenBudget)
	}
	if cfg.MaxLtpRetries < 0 {
		return cfgErr("max_ltp_retries", "cannot be negative, have %d", cfg.MaxLtpRetries)
	}
	if cfg.MetricsSnapshotInterval <= 0.0 {
		return cfgErr("metrics_snapshot_interval", "must be positive, have %g", cfg.MetricsSnapshotInterval)
	}
	if cfg.PropagationDelay < 0.0 {
		return cfgErr("propagation_delay", "cannot be negative, have %g", cfg.PropagationDelay)
	}
	if cfg.MaxHopCount < 1 {
		return cfgErr("max_hop_count", "must be at least 1, have %d", cfg.MaxHopCount)
	}
	return nil
}

// WriteToFile stores the SimConfig struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (cfg *SimConfig) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*cfg)
	} else {
		bytes, merr = json.MarshalIndent(*cfg, "", "\t")
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0644)
}

// ReadSimConfig deserializes a byte slice holding a representation of a
// SimConfig.  If the dict argument is empty the named file is read to acquire
// it.  Options absent from the input keep their defaults.
func ReadSimConfig(filename string, useYAML bool, dict []byte) (*SimConfig, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := DefaultConfig()
	if useYAML {
		err = yaml.Unmarshal(dict, example)
	} else {
		err = json.Unmarshal(dict, example)
	}
	if err != nil {
		return nil, err
	}
	return example, nil
}
