package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dusk-indust/logwire/internal/config"
)

const envPrefix = "LOGWIRE"

// newViper returns a viper instance reading LOGWIRE_* environment variables,
// with dashes in keys mapped to underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(newViper())
}

func buildRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "logwire",
		Short:         "Live reconfiguration for a structured logging pipeline",
		Long:          "logwire merges global, category and fragment configuration into a live logging pipeline and rebuilds it whenever a source changes, keeping runtime-registered sinks and filters attached and falling back to the last working configuration on failure.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("dir", ".", "directory to look for logwire.yml in")
	flags.String("config", "", "path to the config file (overrides --dir)")
	flags.String("log-home", "", "directory relative output files resolve against")
	flags.String("log-level", "", "level of logwire's own logs: debug, info, warn or error")
	flags.String("log-format", "", "format of logwire's own logs: text or json")
	_ = v.BindPFlags(flags)

	root.AddCommand(
		newRunCmd(v),
		newValidateCmd(v),
		newExportCmd(v),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

// loadConfig reads the config file named by the flags and applies flag and
// LOGWIRE_* environment overrides on top of it.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := v.GetString("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(v.GetString("dir"))
	}
	if err != nil {
		return nil, err
	}

	if s := v.GetString("log-home"); s != "" {
		cfg.LogHome = s
	}
	if s := v.GetString("log-level"); s != "" {
		cfg.Log.Level = s
	}
	if s := v.GetString("log-format"); s != "" {
		cfg.Log.Format = s
	}
	if s := v.GetString("metrics-addr"); s != "" {
		cfg.Metrics.Addr = s
	}
	if s := v.GetString("mcp-addr"); s != "" {
		cfg.MCP.Addr = s
	}
	if v.GetBool("watch") {
		cfg.Watch.Enabled = true
	}
	return cfg, nil
}
