package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"image-optimizer/internal/core/image"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Show size, dimensions and format of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asset, err := image.Inspect(args[0])
			if err != nil {
				return err
			}

			budget := a.cfg.Image.MaxSizeMB
			status := "within budget"
			if asset.SizeMB() > budget {
				status = "exceeds budget"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Path:       %s\n", asset.Path)
			fmt.Fprintf(out, "Format:     %s\n", asset.Format)
			fmt.Fprintf(out, "Dimensions: %dx%d\n", asset.Width, asset.Height)
			fmt.Fprintf(out, "Size:       %.2f MB (%s of %.2f MB)\n", asset.SizeMB(), status, budget)
			return nil
		},
	}
}
