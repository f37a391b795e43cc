package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"omibyte.io/rvrtos/config"
	"omibyte.io/rvrtos/kernel"
	"omibyte.io/rvrtos/sim"
)

var (
	jitterOpts = struct {
		delay   uint32
		samples int
	}{}

	jitterCmd = &cobra.Command{
		Use:   "jitter",
		Short: "Measure delay accuracy",
		Long:  "Run a periodic task against a busy background load and report how late it wakes up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			r, err := sim.MeasureJitter(cfg, kernel.Ticks(jitterOpts.delay), jitterOpts.samples)
			if err != nil {
				return err
			}
			fmt.Println(r)
			fmt.Printf("worst wake latency %.3f%% of a tick\n", 100*r.Latency.Max/float64(r.TickPeriod))
			return nil
		},
	}
)

func init() {
	jitterCmd.Flags().Uint32VarP(&jitterOpts.delay, "delay", "d", 1, "delay in ticks")
	jitterCmd.Flags().IntVarP(&jitterOpts.samples, "samples", "n", 1000, "number of samples")
}
