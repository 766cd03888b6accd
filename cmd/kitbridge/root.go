package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kitbridge/pkg/config"
)

var flagVals config.Flags

// rootCmd serves when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "kitbridge",
	Short: "Host a request/response web app on a fasthttp server",
	Long: `kitbridge runs a fasthttp server in front of a downstream web application
that speaks the standard request/response contract. The downstream app is
either the built-in site serving a build directory, or a separate process
reached over HTTP.`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagVals.Addr, "addr", "", "listen address, host:port")
	pf.StringVar(&flagVals.BuildDir, "build-dir", "", "directory served by the built-in site")
	pf.StringVar(&flagVals.Upstream, "upstream", "", "URL of a downstream app running in another process")
	pf.StringVarP(&flagVals.Config, "config", "c", "./config.yaml", "config file path")
}

// loadConfig reads file, env and flags into a validated effective config.
func loadConfig(cmd *cobra.Command) (config.EffectiveConfigResult, error) {
	flags := flagVals
	flags.Set = map[string]bool{}
	for _, name := range []string{"addr", "build-dir", "upstream", "config"} {
		flags.Set[name] = cmd.Flags().Changed(name)
	}

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		return config.EffectiveConfigResult{}, fmt.Errorf("failed to load config file: %w", err)
	}
	envCfg, envRes := config.ParseConfigEnvs()

	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		return eff, fmt.Errorf("failed to build effective config: %w", err)
	}
	if err := config.ValidateConfig(eff); err != nil {
		return eff, fmt.Errorf("invalid configuration: %w", err)
	}
	return eff, nil
}

func crashDir(eff config.EffectiveConfigResult) string {
	if eff.Config == nil {
		return ""
	}
	return eff.Config.CrashDir()
}
