package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"image-optimizer/internal/core/image"
	"image-optimizer/internal/core/queue"
	"image-optimizer/internal/pkg/common"
)

func newOptimizeCmd(a *app) *cobra.Command {
	var (
		maxSizeMB float64
		recursive bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "optimize <path>...",
		Short: "Shrink images that exceed the size budget",
		Long: `Optimize one or more images or directories.

Images within the budget are left untouched and reported as-is. Oversized
images are resized with Lanczos resampling and saved as <name>_optimized<ext>.
Directories are expanded to their supported images; previously optimized
outputs are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("max-size-mb") {
				maxSizeMB = a.cfg.Image.MaxSizeMB
			}

			m := queue.NewManager(a.cfg.Queue, a.optimizer())
			defer m.Close()

			var paths []string
			for _, arg := range args {
				expanded, err := m.ExpandPaths(arg, recursive)
				if err != nil {
					return err
				}
				paths = append(paths, expanded...)
			}
			if len(paths) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No images found.")
				return nil
			}

			results := m.Run(cmd.Context(), paths, maxSizeMB)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					fmt.Fprintln(cmd.OutOrStdout(), formatResult(r))
				}
			}

			failed := 0
			for _, r := range results {
				if r.Failed() {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images could not be optimized", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&maxSizeMB, "max-size-mb", image.DefaultMaxSizeMB, "maximum file size in MB")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")

	return cmd
}

// formatResult 單行結果
func formatResult(r image.Result) string {
	switch {
	case r.Failed():
		return fmt.Sprintf("FAILED    %s (%s: %v)", r.Original, r.Kind, r.Err)
	case r.Optimized:
		return fmt.Sprintf("OPTIMIZED %s -> %s (%.2f MB -> %.2f MB, %dx%d)",
			r.Original, r.Path,
			common.BytesToMB(r.OriginalSize), common.BytesToMB(r.OptimizedSize),
			r.Width, r.Height)
	default:
		return fmt.Sprintf("OK        %s (%.2f MB)", r.Path, common.BytesToMB(r.OriginalSize))
	}
}
