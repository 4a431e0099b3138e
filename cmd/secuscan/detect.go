package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourorg/secuscan/internal/detect"
)

func newDetectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <target>",
		Short: "Print the project classification and file extension counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			target = detect.Resolve(target)
			res := detect.Classify(target)
			a.log.Debug().Str("target", target).Str("category", string(res.Category)).Msg("classified")
			return printClassification(cmd.OutOrStdout(), res)
		},
	}
}

func printClassification(w io.Writer, res detect.Result) error {
	if _, err := fmt.Fprintf(w, "Category: %s\n", res.Category); err != nil {
		return err
	}
	exts := make([]string, 0, len(res.Extensions))
	for ext := range res.Extensions {
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool {
		ci, cj := res.Extensions[exts[i]], res.Extensions[exts[j]]
		if ci != cj {
			return ci > cj
		}
		return exts[i] < exts[j]
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, ext := range exts {
		fmt.Fprintf(tw, "  %s\t%d\n", ext, res.Extensions[ext])
	}
	return tw.Flush()
}
