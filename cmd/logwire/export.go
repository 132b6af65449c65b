package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dusk-indust/logwire/internal/config"
	"github.com/dusk-indust/logwire/internal/engine"
	"github.com/dusk-indust/logwire/internal/export"
	"github.com/dusk-indust/logwire/internal/logging"
	"github.com/dusk-indust/logwire/internal/reconcile"
)

func newExportCmd(v *viper.Viper) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the routing the configuration produces",
		Long:  "export plans the configured pipeline without opening any output and prints its sources, sinks and categories as JSON or as a Mermaid diagram.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), cmd.OutOrStdout(), cfg, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or mermaid")
	return cmd
}

func runExport(ctx context.Context, w io.Writer, cfg *config.Config, format string) error {
	level := cfg.Log.Level
	if level == "" {
		level = "warn"
	}
	mgr := reconcile.New(
		reconcile.WithEngine(engine.NewPlanner()),
		reconcile.WithLogHome(cfg.ResolvedLogHome()),
		reconcile.WithLogger(logging.New(os.Stderr, cfg.Log.Format, logging.ParseLevel(level))),
	)
	defer mgr.Close()

	if err := cfg.Apply(ctx, mgr, nil); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if mgr.Live() == nil {
		return fmt.Errorf("export: the configuration did not produce a pipeline; run validate for details")
	}

	switch strings.ToLower(format) {
	case "json":
		out, err := json.MarshalIndent(export.ExportState(mgr, 0), "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		_, err = w.Write(append(out, '\n'))
		return err
	case "mermaid":
		_, err := io.WriteString(w, export.GenerateMermaid(mgr))
		return err
	default:
		return fmt.Errorf("export: unknown format %q (want json or mermaid)", format)
	}
}
