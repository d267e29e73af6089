package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newDocsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Catalog artifact commands",
	}
	cmd.AddCommand(newDocsGenerateCmd(o))
	return cmd
}

func newDocsGenerateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Read stored comments and write the catalog artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, _, err := o.newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			art, err := a.Service.GenerateCatalog(cmd.Context())
			if art == nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				if perr := PrintJSON(cmd.OutOrStdout(), art); perr != nil {
					return perr
				}
			} else {
				ids := make([]string, 0, len(art.Nodes)+len(art.Errors))
				for id := range art.Nodes {
					ids = append(ids, id)
				}
				for id := range art.Errors {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				rows := make([][]string, 0, len(ids))
				for _, id := range ids {
					if msg, failed := art.Errors[id]; failed {
						rows = append(rows, []string{id, "-", "-", msg})
						continue
					}
					e := art.Nodes[id]
					comment := ""
					if e.Metadata.Comment != nil {
						comment = *e.Metadata.Comment
					}
					rows = append(rows, []string{id, e.Metadata.Type, fmt.Sprint(len(e.Columns)), comment})
				}
				PrintTable(cmd.OutOrStdout(), []string{"unique_id", "type", "columns", "comment"}, rows)
				if err == nil {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\ncatalog written to %s\n", a.Sink.Location())
				}
			}
			return err
		},
	}
}
