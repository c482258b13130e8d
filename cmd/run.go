package cmd

import (
	"reflect"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dtnsim/internal/sim"
)

var (
	outputFile string
	planFile   string
)

// runCmd executes one simulation experiment
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulation experiment",
	Long: `Run assembles a simulation from the configuration (defaults,
overridden by the config file, DTNSIM_* environment variables, and flags,
in that order), drives it to its horizon, and emits the summary, snapshot
timeline, and per-node records.`,
	RunE: doRun,
}

func init() {
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "",
		"write the result records to this file (json or yaml, by extension)")
	runCmd.Flags().StringVar(&planFile, "plan-out", "",
		"also write the generated contact plan to this file")

	runCmd.Flags().Int("nodes", 0, "override num_nodes")
	runCmd.Flags().Float64("horizon", 0, "override simulation_time (seconds)")
	runCmd.Flags().String("router", "", "override router_kind")
	runCmd.Flags().Int64("seed", 0, "override random_seed")
}

// loadConfig merges the configuration sources into a SimConfig
func loadConfig(cmd *cobra.Command) (*sim.SimConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("DTNSIM")
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so bind every option
	// to its DTNSIM_* variable explicitly
	cfgType := reflect.TypeOf(sim.SimConfig{})
	for idx := 0; idx < cfgType.NumField(); idx++ {
		if key := cfgType.Field(idx).Tag.Get("mapstructure"); key != "" {
			if err := v.BindEnv(key); err != nil {
				return nil, err
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	// flags outrank file and environment
	bindings := map[string]string{
		"num_nodes":       "nodes",
		"simulation_time": "horizon",
		"router_kind":     "router",
		"random_seed":     "seed",
	}
	for key, flag := range bindings {
		if cmd.Flags().Changed(flag) {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return nil, err
			}
		}
	}

	cfg := sim.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func doRun(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, err := sim.BuildSimContext(cfg, log)
	if err != nil {
		return err
	}

	meanDuration := 0.0
	for _, c := range ctx.Plan.Contacts {
		meanDuration += c.End - c.Start
	}
	if len(ctx.Plan.Contacts) > 0 {
		meanDuration /= float64(len(ctx.Plan.Contacts))
	}

	log.WithFields(logrus.Fields{
		"nodes":                 cfg.NumNodes,
		"horizon":               cfg.SimulationTime,
		"router":                cfg.RouterKind,
		"seed":                  cfg.RandomSeed,
		"contacts":              len(ctx.Plan.Contacts),
		"mean_contact_duration": meanDuration,
	}).Info("simulation assembled")

	res := ctx.Run()

	sm := res.Summary
	log.WithFields(logrus.Fields{
		"generated":       sm.Generated,
		"delivered":       sm.Delivered,
		"delivery_ratio":  sm.DeliveryRatio,
		"avg_latency":     sm.AvgLatency,
		"avg_buffer_util": sm.AvgBufferUtilization,
	}).Info("bundle statistics")
	log.WithFields(logrus.Fields{
		"segments_sent":   sm.SegmentsSent,
		"segments_lost":   sm.SegmentsLost,
		"retransmissions": sm.Retransmissions,
		"sessions_failed": sm.SessionsFailed,
	}).Info("transfer statistics")
	log.WithFields(logrus.Fields{
		"dropped_eviction": sm.DroppedEviction,
		"dropped_expiry":   sm.DroppedExpiry,
	}).Info("drop statistics")

	if outputFile != "" {
		if err := res.WriteToFile(outputFile); err != nil {
			return err
		}
		log.WithField("file", outputFile).Info("results written")
	}
	if planFile != "" {
		if err := ctx.Plan.WriteToFile(planFile); err != nil {
			return err
		}
		log.WithField("file", planFile).Info("contact plan written")
	}
	return nil
}
