package commands

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/novvoo/go-pageimages/internal/extract"
)

func newListCmd(a *app) *cobra.Command {
	var f extractFlags

	cmd := &cobra.Command{
		Use:   "list <input.pdf>",
		Short: "List the files extract would write",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, page, err := a.extractor(cmd, &f)
			if err != nil {
				return err
			}

			result, err := e.List(args[0], page)
			if err != nil {
				return err
			}
			printFiles(cmd, result.Files)
			return nil
		},
	}

	bindExtractFlags(cmd, &f, false)
	return cmd
}

// printFiles writes a table of files. The header is styled after alignment
// so escape sequences do not count toward column widths.
func printFiles(cmd *cobra.Command, files []extract.File) {
	out := cmd.OutOrStdout()
	var table bytes.Buffer
	w := tabwriter.NewWriter(&table, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "num\tfile\twidth\theight\tcolor\tbpc\tenc\tinline\tsize")
	fmt.Fprintln(w, "---\t----\t-----\t------\t-----\t---\t---\t------\t----")

	for _, file := range files {
		width, height, cs, bpc, enc, inline := "-", "-", "-", "-", "-", "-"
		if info := file.Info; info != nil {
			width = strconv.Itoa(info.Width)
			height = strconv.Itoa(info.Height)
			bpc = strconv.Itoa(info.BitsPerComponent)
			if info.ColorSpace != "" {
				cs = info.ColorSpace
			}
			enc = "image"
			if info.Filter != "" {
				enc = info.Filter
			}
			inline = "no"
			if info.Inline {
				inline = "yes"
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%dB\n",
			file.Ordinal, file.Name, width, height, cs, bpc, enc, inline, file.Size)
	}
	_ = w.Flush()

	header, rest, _ := bytes.Cut(table.Bytes(), []byte("\n"))
	color.New(color.Bold).Fprintln(out, string(header))
	_, _ = out.Write(rest)
}
