package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newExtractCmd(a *app) *cobra.Command {
	var f extractFlags

	cmd := &cobra.Command{
		Use:   "extract <input.pdf>",
		Short: "Write the images of a page to files",
		Long: `Write every image of one page to <ordinal><name> in the output
directory. JPEG, JPEG 2000 and JBIG2 data is written as stored, CCITT fax
data as TIFF and other images as PNG. With --raw the stored stream bytes
are written instead.

Files already written are kept when a later image fails.`,
		Example: `  pageimages extract report.pdf
  pageimages extract report.pdf --page 2 --output-dir images`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, page, err := a.extractor(cmd, &f)
			if err != nil {
				return err
			}

			result, err := e.Extract(args[0], page)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			green.Fprintf(cmd.OutOrStdout(), "Extracted %d image(s) from page %d\n", len(result.Files), result.Page)
			return nil
		},
	}

	bindExtractFlags(cmd, &f, true)
	return cmd
}
