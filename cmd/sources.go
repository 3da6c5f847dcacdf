package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/sources"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the available layers and their source descriptors",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry, err := sources.LoadRegistry()
		if err != nil {
			return err
		}

		formatSources(os.Stdout, registry)
		return nil
	},
}

func formatSources(out io.Writer, registry *sources.Registry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LAYER\tKIND\tFAMILY\tFIELDS")

	for _, layer := range model.AllLayers() {
		spec, _ := registry.Spec(layer)

		names := make([]string, 0, len(spec.Fields))
		for _, f := range spec.Fields {
			names = append(names, f.Name)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			layer, spec.Kind, layer.Family(), strings.Join(names, ", "))
	}

	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
