package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"kitbridge/pkg/logger"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Load and validate the configuration, then print it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eff, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		c := eff.Config
		app := "site " + c.App.BuildDir
		if c.App.Upstream != "" {
			app = "upstream " + c.App.Upstream
		}
		logger.LogConfigSummary("effective_config", []string{
			"source: " + eff.Source,
			"listen: " + c.Addr(),
			"app: " + app,
			"origin: " + orDefault(c.Bridge.Origin, "from request"),
			"address_header: " + orDefault(c.Bridge.AddressHeader, "socket peer"),
			fmt.Sprintf("xff_depth: %d", c.Bridge.XFFDepth),
			"max_request_body: " + humanize.IBytes(uint64(c.Server.MaxRequestBodySize.Int64())),
			fmt.Sprintf("rate_limit: %s rps, burst %d", humanize.Ftoa(c.Server.RateLimit.RPS), c.Server.RateLimit.Burst),
			fmt.Sprintf("telemetry: %t", c.Telemetry.Enabled),
		})
		fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
		return nil
	},
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
