// Command occlusion-sensor watches camera exposure statistics for lens
// occlusion and publishes confirmed changes to MQTT.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/sweeney/occlusion-sensor/internal/config"
	"github.com/sweeney/occlusion-sensor/internal/isp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	loader := &config.Loader{}

	root := &cobra.Command{
		Use:           "occlusion-sensor",
		Short:         "Detect camera lens occlusion from ISP histogram statistics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&loader.Path, "config", "", fmt.Sprintf("Path to YAML config (default %s if present)", config.DefaultConfigPath))

	root.AddCommand(
		newRunCmd(loader),
		newPrintStatsCmd(loader),
	)
	return root
}

func newRunCmd(loader *config.Loader) *cobra.Command {
	flags := &overrideFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the occlusion detector daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader.Load(flags.toOverrides(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runDaemon(cfg)
		},
	}
	bindOverrideFlags(cmd, flags)
	return cmd
}

func newPrintStatsCmd(loader *config.Loader) *cobra.Command {
	flags := &overrideFlags{}
	cmd := &cobra.Command{
		Use:   "print-stats",
		Short: "Query the statistics source once, print the evaluation and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader.Load(flags.toOverrides(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			src, err := isp.OpenSerial(cfg.Source.Serial, cfg.Source.Baud, cfg.Source.Timeout)
			if err != nil {
				return fmt.Errorf("open statistics source: %w", err)
			}
			defer src.Close()

			return printStats(os.Stdout, src, cfg.Regions[0].Sensitivity)
		},
	}
	bindOverrideFlags(cmd, flags)
	return cmd
}
