package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"image-optimizer/internal/core/image"
)

func newCopyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <path> <output-dir>",
		Short: "Copy an image into an output directory",
		Long:  "Copy an image into an output directory, creating it if needed and preserving permissions and modification time.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := image.CopyToFolder(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}
}
