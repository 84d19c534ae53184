package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
	"github.com/heimdex/heimdex-annotator/internal/export"
	"github.com/heimdex/heimdex-annotator/internal/logging"
	"github.com/heimdex/heimdex-annotator/internal/submit"
)

func newCheckCmd() *cobra.Command {
	var flags sessionFlags
	var offline bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and session parameters",
		Long:  "Validates configuration and session parameters, then loads the segment catalog unless --offline is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(&flags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			sessCfg := cfg.Session()
			if err := sessCfg.Validate(); err != nil {
				return err
			}
			mode, err := submit.ParseMode(sessCfg.Mode)
			if err != nil {
				return err
			}
			layout, err := catalog.ParseLayout(sessCfg.Layout)
			if err != nil {
				return err
			}
			if dir := cfg.Media().Dir; dir != "" {
				if err := export.ValidateDir("media dir", dir); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "config ok: mode=%s layout=%s place=%s/%s videos=%d\n",
				mode, layout, sessCfg.Area, sessCfg.Place, len(sessCfg.Videos))

			if offline {
				return nil
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			if cfg.LogLevel() == "debug" {
				logger = logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel())
			}
			cat, err := loadCatalog(cmd.Context(), cfg, layout, logger)
			if err != nil {
				return err
			}
			for _, v := range cat.Videos() {
				fmt.Fprintf(out, "  %-8s %-16s %d segments\n", v.Key, v.SourceID, len(v.Segments))
			}
			fmt.Fprintf(out, "catalog ok: %d segments, %.1fs total, %d skipped\n", cat.Len(), cat.TotalDuration(), cat.Skipped())
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&offline, "offline", false, "skip loading the segment catalog")
	return cmd
}
