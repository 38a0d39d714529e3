package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"image-optimizer/internal/watcher"
)

func newWatchCmd(a *app) *cobra.Command {
	var maxSizeMB float64

	cmd := &cobra.Command{
		Use:   "watch <dir> <output-dir>",
		Short: "Optimize new images in a directory as they appear",
		Long: `Watch a directory for new or modified images.

Each image is optimized against the budget and the result (optimized copy or
the untouched original) is copied into the output directory. Press Ctrl+C to stop.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("max-size-mb") {
				maxSizeMB = a.cfg.Image.MaxSizeMB
			}

			w, err := watcher.New(args[0], args[1], a.optimizer(), maxSizeMB)
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				w.Stop()
				return err
			}
			defer w.Stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s -> %s (Ctrl+C to stop)\n", args[0], args[1])

			ctx := cmd.Context()
			for {
				select {
				case p, ok := <-w.Events():
					if !ok {
						return nil
					}
					if p.Err != nil {
						fmt.Fprintf(out, "FAILED    %s: %v\n", p.Source, p.Err)
						continue
					}
					fmt.Fprintf(out, "%s -> %s\n", formatResult(p.Result), p.Output)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().Float64Var(&maxSizeMB, "max-size-mb", 0, "maximum file size in MB (default from config)")
	return cmd
}
