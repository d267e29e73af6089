package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"chdocs/internal/ddl"
)

type versionInfo struct {
	Version string   `json:"version"`
	Commit  string   `json:"commit"`
	Go      string   `json:"go"`
	Engines []string `json:"engines"`
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{
				Version: version,
				Commit:  commit,
				Go:      runtime.Version(),
				Engines: []string{string(ddl.DialectClickHouse), string(ddl.DialectDuckDB)},
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), info)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "chdocs %s (commit %s, %s)\n", info.Version, info.Commit, info.Go)
			return nil
		},
	}
}
