package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect extraction run history",
	Long:  "Commands for listing and viewing recorded extraction runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		layer, _ := cmd.Flags().GetString("layer")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{
			Status: model.RunStatus(status),
			Layer:  model.LayerID(layer),
			Limit:  limit,
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, completed, failed)")
	runsListCmd.Flags().String("layer", "", "filter by extracted layer")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tLAYERS\tFEATURES\tAREA_KM2\tCREATED")

	for _, r := range runs {
		features := "-"
		if r.Result != nil {
			features = fmt.Sprintf("%d", r.Result.TotalFeatures)
		}

		names := make([]string, len(r.Layers))
		for i, l := range r.Layers {
			names[i] = string(l)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%s\n",
			r.ID, r.Status, strings.Join(names, ","), features, r.AreaKm2,
			r.CreatedAt.Format(time.RFC3339))
	}

	_ = w.Flush()
}
