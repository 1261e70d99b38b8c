// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type healthcheckOptions struct {
	HTTP        string
	UnixService string
}

// HealthcheckOptions stores the command-line option values for the healthcheck
// command.
var HealthcheckOptions healthcheckOptions

func init() {
	RootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().StringVarP(&HealthcheckOptions.HTTP, "http", "", "",
		"HTTP host:port for health check")
	healthcheckCmd.Flags().StringVarP(&HealthcheckOptions.UnixService, "service", "", "",
		"Service to query over Unix socket")
}

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check healthness",
	Long: `Check if cnetflow is alive using the builtin HTTP endpoint. By default, the
check is done over the abstract Unix socket of the running collector.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		url := fmt.Sprintf("http://%s/api/v0/healthcheck", HealthcheckOptions.HTTP)
		if HealthcheckOptions.HTTP == "" {
			socket := "@cnetflow"
			if HealthcheckOptions.UnixService != "" {
				socket = fmt.Sprintf("@cnetflow/%s", HealthcheckOptions.UnixService)
			}
			client.Transport = &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socket)
				},
			}
			url = "http://unix/api/v0/healthcheck"
		}

		resp, err := client.Get(url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		cmd.Printf("%s\n", body)
		if resp.StatusCode != http.StatusOK {
			return errors.New("service is unhealthy")
		}
		return nil
	},
}
