package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"image-optimizer/internal/core/image"
)

func newEncodeCmd(a *app) *cobra.Command {
	var dataURI bool

	cmd := &cobra.Command{
		Use:   "encode <path>",
		Short: "Print the base64 encoding of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				out string
				err error
			)
			if dataURI {
				out, err = image.DataURI(args[0])
			} else {
				out, err = image.EncodeBase64(args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dataURI, "data-uri", false, "wrap the output as data:image/<format>;base64,...")
	return cmd
}
