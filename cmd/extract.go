package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atlas-group/aoi-extract/internal/export"
	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/pipeline"
	"github.com/atlas-group/aoi-extract/internal/store"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract layers for an area of interest",
	Long:  "Fetches the requested layers, normalizes and clips them to the area of interest, and writes a bundle archive.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		bbox, _ := cmd.Flags().GetString("bbox")
		aoiPath, _ := cmd.Flags().GetString("aoi")
		layerNames, _ := cmd.Flags().GetStringSlice("layers")
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		save, _ := cmd.Flags().GetBool("save")

		area, err := resolveAOI(bbox, aoiPath)
		if err != nil {
			return err
		}
		layers, err := parseLayers(layerNames)
		if err != nil {
			return err
		}
		if format == "" {
			format = cfg.Export.Format
		}
		if _, err := export.ForFormat(format); err != nil {
			return err
		}

		adapters, registry, err := buildAdapters()
		if err != nil {
			return err
		}

		var st store.Store
		var runID string
		if save {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				return err
			}

			b := area.Bound()
			run, err := st.CreateRun(ctx, [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
				area.ApproxAreaKm2(), layers, format)
			if err != nil {
				return err
			}
			runID = run.ID
		}

		session := pipeline.NewSession(area, adapters, registry, pipeline.Config{})
		result, err := session.Run(ctx, layers)
		if err != nil {
			if st != nil {
				if uerr := st.UpdateRunStatus(ctx, runID, model.RunStatusFailed); uerr != nil {
					zap.L().Warn("failed to mark run failed", zap.Error(uerr))
				}
			}
			return err
		}

		if out == "" {
			out = filepath.Join(cfg.Export.Dir, fmt.Sprintf("aoi-extract-%s.zip", result.RunID))
		}
		if err := export.WriteBundle(out, result.RunID, format, result.Layers); err != nil {
			return err
		}

		if st != nil {
			for _, layer := range result.Layers {
				if _, err := st.SaveLayerFeatures(ctx, runID, layer); err != nil {
					return err
				}
			}
			if err := st.CompleteRun(ctx, runID, runResult(result)); err != nil {
				return err
			}
		}

		printSummary(result, out)
		return nil
	},
}

// runResult converts a pipeline result to its stored form.
func runResult(r *pipeline.Result) *model.RunResult {
	res := &model.RunResult{
		TotalFeatures:  r.TotalFeatures,
		DurationMillis: r.Duration.Milliseconds(),
	}
	for _, layer := range r.Layers {
		res.Layers = append(res.Layers, model.LayerSummary{
			Layer:    layer.ID,
			Stats:    layer.Stats,
			Warnings: layer.Warnings,
		})
	}
	return res
}

func printSummary(r *pipeline.Result, out string) {
	fmt.Fprintf(os.Stdout, "Run %s: %d features across %d layers (%.1f km2, %s)\n",
		r.RunID, r.TotalFeatures, len(r.Layers), r.AreaKm2, r.Duration.Round(time.Millisecond))
	for _, layer := range r.Layers {
		fmt.Fprintf(os.Stdout, "  %-14s %6d features", layer.ID, layer.Stats.FeatureCount)
		if len(layer.Warnings) > 0 {
			fmt.Fprintf(os.Stdout, "  (%d warnings)", len(layer.Warnings))
		}
		fmt.Fprintln(os.Stdout)
	}
	fmt.Fprintf(os.Stdout, "Bundle written to %s\n", out)
}

func init() {
	extractCmd.Flags().String("bbox", "", "area of interest as minLon,minLat,maxLon,maxLat")
	extractCmd.Flags().String("aoi", "", "path to a GeoJSON Polygon or MultiPolygon file")
	extractCmd.Flags().StringSlice("layers", nil, "layers to extract (default all)")
	extractCmd.Flags().String("format", "", "output format: geojson, shapefile, csv, xlsx (default from config)")
	extractCmd.Flags().String("out", "", "bundle output path (default aoi-extract-<run-id>.zip)")
	extractCmd.Flags().Bool("save", false, "record the run and its features in the store")
	rootCmd.AddCommand(extractCmd)
}
