package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atlas-group/aoi-extract/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "aoi-extract",
	Short: "Multi-source geospatial extraction for areas of interest",
	Long:  "Fetches buildings, roads, waterways, parks, amenities, and boundaries from their upstream sources, normalizes them to a canonical schema, and clips the result to an area of interest.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
