package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"chdocs/internal/domain"
	"chdocs/internal/verify"
)

func newVerifyCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [model...]",
		Short: "Check that every node stores the same comments",
		Long:  "Reads relation and column comments from every node without writing anything and reports each verdict.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := o.newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			reports, err := a.Service.Verify(cmd.Context(), args)
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				if err := PrintJSON(cmd.OutOrStdout(), reports); err != nil {
					return err
				}
			} else {
				PrintTable(cmd.OutOrStdout(), []string{"relation", "target", "status", "detail"}, verdictRows(reports))
			}

			drifted := 0
			for _, r := range reports {
				if !r.Consistent() {
					drifted++
				}
			}
			if drifted > 0 {
				return fmt.Errorf("%d of %d relations are not consistent", drifted, len(reports))
			}
			return nil
		},
	}
}

// verdictRows renders one row for the relation comment and one per column.
func verdictRows(reports []*verify.Report) [][]string {
	var rows [][]string
	for _, r := range reports {
		rows = append(rows, verdictRow(r.Relation, "(relation)", r.Comment))
		cols := make([]string, 0, len(r.Columns))
		for c := range r.Columns {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		for _, c := range cols {
			rows = append(rows, verdictRow(r.Relation, c, r.Columns[c]))
		}
	}
	return rows
}

func verdictRow(relation, target string, v domain.Verdict) []string {
	detail := v.String()
	if v.Consistent() {
		detail = fmt.Sprintf("%q", v.Value)
	}
	return []string{relation, target, string(v.Status), detail}
}
