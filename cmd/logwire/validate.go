package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dusk-indust/logwire/internal/config"
	"github.com/dusk-indust/logwire/internal/rebuild"
	"github.com/dusk-indust/logwire/internal/source"
	"github.com/dusk-indust/logwire/internal/validate"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without installing it",
		Long:  "validate merges every configured source exactly as a rebuild would and reports conflicts, merge warnings and parse errors. No output file is opened.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runValidate(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

func runValidate(ctx context.Context, w io.Writer, cfg *config.Config) error {
	reg := source.NewRegistry()
	for _, src := range cfg.Sources() {
		if err := reg.Put(src); err != nil {
			return err
		}
	}

	model, warnings, err := rebuild.DryRun(ctx, reg.Snapshot(), cfg.ResolvedLogHome())
	for _, wn := range warnings {
		fmt.Fprintf(w, "warning: %s: %s\n", wn.SourceID, wn.Message)
	}

	var cerr *validate.ConflictError
	if errors.As(err, &cerr) {
		for _, c := range cerr.Conflicts {
			fmt.Fprintf(w, "conflict: %s\n", c)
		}
		return fmt.Errorf("%d conflict(s) found", len(cerr.Conflicts))
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "ok: %d source(s), %d categories, %d sinks\n",
		len(reg.Snapshot().All()), len(model.Categories()), len(model.SinkSpecs()))
	return nil
}
