// Package export renders extracted layers to the supported output formats
// and packages multi-layer results into a single archive.
package export

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/atlas-group/aoi-extract/internal/model"
)

// Supported output formats.
const (
	FormatGeoJSON   = "geojson"
	FormatShapefile = "shapefile"
	FormatCSV       = "csv"
	FormatXLSX      = "xlsx"
)

// Formats returns the supported format names in a stable order.
func Formats() []string {
	return []string{FormatGeoJSON, FormatShapefile, FormatCSV, FormatXLSX}
}

// Writer renders one layer into files under a directory and returns the
// paths written. Shapefile output spans several sidecar files, so writers
// work on directories rather than single streams.
type Writer interface {
	Format() string
	WriteLayer(dir string, layer model.Layer) ([]string, error)
}

// ForFormat returns the writer for a format name.
func ForFormat(format string) (Writer, error) {
	switch format {
	case FormatGeoJSON:
		return &geoJSONWriter{}, nil
	case FormatShapefile:
		return &shapefileWriter{}, nil
	case FormatCSV:
		return &csvWriter{}, nil
	case FormatXLSX:
		return &xlsxWriter{}, nil
	default:
		return nil, eris.Errorf("export: unsupported format %q", format)
	}
}

// columns derives the tabular column set for a layer: source_id, tile, and
// geometry_type first, then the remaining attribute keys sorted. All
// features of a layer share the canonical schema, but the union is taken
// anyway.
func columns(layer model.Layer) []string {
	seen := map[string]bool{"source_id": true}
	var extra []string
	for _, f := range layer.Features {
		for k := range f.Attrs {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append([]string{"source_id", "tile", "geometry_type"}, extra...)
}

// cellValue formats one attribute for tabular output. Floats keep their
// shortest exact representation.
func cellValue(f model.CanonicalFeature, col string) string {
	switch col {
	case "source_id":
		return f.SourceID
	case "tile":
		return f.Tile
	case "geometry_type":
		if f.Geometry == nil {
			return ""
		}
		return f.Geometry.GeoJSONType()
	}
	v, ok := f.Attrs[col]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return formatFloat(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
