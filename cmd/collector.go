// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cnetflow/common/daemon"
	"cnetflow/common/httpserver"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow"
	"cnetflow/inlet/sink"
)

// CollectorConfiguration represents the configuration file for the collector command.
type CollectorConfiguration struct {
	Reporting reporter.Configuration
	HTTP      httpserver.Configuration
	Flow      flow.Configuration
	Sink      sink.Configuration
}

// Reset resets the configuration for the collector command to its default value.
func (c *CollectorConfiguration) Reset() {
	*c = CollectorConfiguration{
		Reporting: reporter.DefaultConfiguration(),
		HTTP:      httpserver.DefaultConfiguration(),
		Flow:      flow.DefaultConfiguration(),
		Sink:      sink.DefaultConfiguration(),
	}
}

type collectorOptions struct {
	ConfigRelatedOptions
	CheckMode bool
}

// CollectorOptions stores the command-line option values for the collector
// command.
var CollectorOptions collectorOptions

var collectorCmd = &cobra.Command{
	Use:   "collector [config]",
	Short: "Start cnetflow's collector",
	Long: `cnetflow is a NetFlow v5/v9 and IPFIX collector. It decodes export packets
received over UDP, or replayed from files and captures, and persists the
resulting flow records into a sink.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := CollectorConfiguration{}
		config.Reset()
		if len(args) > 0 {
			CollectorOptions.Path = args[0]
		}
		if err := CollectorOptions.Parse(cmd.OutOrStdout(), "collector", &config); err != nil {
			return err
		}

		r, err := reporter.New(config.Reporting)
		if err != nil {
			return fmt.Errorf("unable to initialize reporter: %w", err)
		}
		return collectorStart(r, config, CollectorOptions.CheckMode)
	},
}

func init() {
	RootCmd.AddCommand(collectorCmd)
	collectorCmd.Flags().BoolVarP(&CollectorOptions.ConfigRelatedOptions.Dump, "dump", "D", false,
		"Dump configuration before starting")
	collectorCmd.Flags().BoolVarP(&CollectorOptions.CheckMode, "check", "C", false,
		"Check configuration, but does not start")
}

func collectorStart(r *reporter.Reporter, config CollectorConfiguration, checkOnly bool) error {
	// Initialize the various components
	daemonComponent, err := daemon.New(r)
	if err != nil {
		return fmt.Errorf("unable to initialize daemon component: %w", err)
	}
	httpComponent, err := httpserver.New(r, "collector", config.HTTP, httpserver.Dependencies{
		Daemon: daemonComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize http component: %w", err)
	}
	sinkComponent, err := sink.New(r, config.Sink, sink.Dependencies{
		Daemon: daemonComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize sink component: %w", err)
	}
	flowComponent, err := flow.New(r, config.Flow, flow.Dependencies{
		Daemon: daemonComponent,
		HTTP:   httpComponent,
		Sink:   sinkComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize flow component: %w", err)
	}

	// Expose some informations and metrics
	addCommonHTTPHandlers(r, "collector", httpComponent)
	versionMetrics(r)

	// If we only asked for a check, stop here.
	if checkOnly {
		return nil
	}

	// Start all the components. The sink is started before the flow
	// component and stopped after it, so in-flight batches are drained.
	components := []interface{}{
		httpComponent,
		sinkComponent,
		flowComponent,
	}
	return StartStopComponents(r, daemonComponent, components)
}
