package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"chdocs/internal/service/propagation"
	"chdocs/internal/verify"
)

type modelSummary struct {
	Model        string         `json:"model"`
	Mode         string         `json:"mode,omitempty"`
	OK           bool           `json:"ok"`
	NodesApplied int            `json:"nodes_applied"`
	NodesFailed  int            `json:"nodes_failed"`
	Problem      string         `json:"problem,omitempty"`
	Verification *verify.Report `json:"verification,omitempty"`
}

type runSummary struct {
	RunID        string         `json:"run_id"`
	Cluster      string         `json:"cluster,omitempty"`
	Nodes        int            `json:"nodes"`
	ElapsedMS    int64          `json:"elapsed_ms"`
	Catalog      string         `json:"catalog,omitempty"`
	CatalogError string         `json:"catalog_error,omitempty"`
	Models       []modelSummary `json:"models"`
}

func summarize(res *propagation.BuildResult, catalogLocation string) runSummary {
	s := runSummary{
		RunID:     res.RunID,
		Cluster:   res.Topology.Cluster,
		Nodes:     len(res.Topology.Nodes),
		ElapsedMS: res.Elapsed.Milliseconds(),
		Models:    make([]modelSummary, 0, len(res.Models)),
	}
	if res.Catalog != nil {
		s.Catalog = catalogLocation
	}
	if res.CatalogErr != nil {
		s.CatalogError = res.CatalogErr.Error()
	}
	for _, m := range res.Models {
		ms := modelSummary{Model: m.Model, Mode: string(m.Mode), OK: m.OK(), Problem: m.Problem(), Verification: m.Report}
		if m.Result != nil {
			ms.NodesFailed = len(m.Result.Failed())
			ms.NodesApplied = len(m.Result.Nodes) - ms.NodesFailed
		}
		s.Models = append(s.Models, ms)
	}
	return s
}

func newRunCmd(o *rootOptions) *cobra.Command {
	var noVerify, noCatalog bool

	cmd := &cobra.Command{
		Use:   "run [model...]",
		Short: "Build models on every node and persist their documentation",
		Long: "Builds the named models (all when none are given) on every node of the topology, " +
			"verifies that relation and column comments agree, and writes the catalog artifact.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := o.newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Service.Build(cmd.Context(), args, propagation.BuildOptions{Verify: !noVerify, Catalog: !noCatalog})
			if err != nil {
				return err
			}
			s := summarize(res, a.Sink.Location())

			if getOutputFormat(cmd) == "json" {
				if err := PrintJSON(cmd.OutOrStdout(), s); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(s.Models))
				for _, m := range s.Models {
					status := "ok"
					if !m.OK {
						status = "FAILED"
					}
					nodes := strconv.Itoa(m.NodesApplied) + "/" + strconv.Itoa(m.NodesApplied+m.NodesFailed)
					rows = append(rows, []string{m.Model, m.Mode, nodes, status, m.Problem})
				}
				PrintTable(cmd.OutOrStdout(), []string{"model", "mode", "nodes", "status", "problem"}, rows)
				if s.Catalog != "" {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\ncatalog written to %s\n", s.Catalog)
				}
			}

			var errs []error
			if failed := len(res.Failed()); failed > 0 {
				errs = append(errs, fmt.Errorf("%d of %d models failed", failed, len(res.Models)))
			}
			if res.CatalogErr != nil {
				errs = append(errs, fmt.Errorf("catalog not published to %s: %w", a.Sink.Location(), res.CatalogErr))
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip the consistency check after building")
	cmd.Flags().BoolVar(&noCatalog, "no-catalog", false, "Skip writing the catalog artifact")
	return cmd
}
