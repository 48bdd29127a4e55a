package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mediapipe/internal/models"
	"mediapipe/internal/pipeline"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var usage, alt string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Run one local image through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			u := models.UsageContext(usage)
			if usage != "" {
				var ok bool
				if u, ok = models.ParseUsageContext(usage); !ok {
					return fmt.Errorf("unknown usage context %q", usage)
				}
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			a, err := buildApp(cmd.Context(), cfg.Config, cfg.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.processor.Process(cmd.Context(), pipeline.Upload{
				Filename: args[0],
				Data:     data,
				AltText:  alt,
				Usage:    u,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			asset := res.Asset
			fmt.Fprintf(out, "Asset %s (%s, %dx%d %s)\n", asset.ID, asset.Filename, asset.SourceWidth, asset.SourceHeight, asset.Orientation)
			for _, v := range asset.Variants {
				marker := " "
				if v.StorageKey == asset.PrimaryVariantKey {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-10s %-5s %5dx%-5d %9s  %s\n",
					marker, v.Breakpoint, v.Codec, v.Width, v.Height, humanize.IBytes(uint64(v.ByteSize)), v.PublicURL)
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "warning: %s %s/%s: %s\n", w.Kind, w.Breakpoint, w.Codec, w.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&usage, "usage", "", "Usage context (hero, gallery, thumb, miniature)")
	cmd.Flags().StringVar(&alt, "alt", "", "Alt text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run result as JSON")
	return cmd
}
