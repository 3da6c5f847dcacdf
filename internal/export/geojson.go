package export

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/atlas-group/aoi-extract/internal/model"
)

// geoJSONWriter renders a layer as a GeoJSON FeatureCollection. Attributes
// become feature properties; the origin tile is kept as a property when set.
type geoJSONWriter struct{}

func (w *geoJSONWriter) Format() string { return FormatGeoJSON }

func (w *geoJSONWriter) WriteLayer(dir string, layer model.Layer) ([]string, error) {
	fc := geojson.NewFeatureCollection()
	for _, f := range layer.Features {
		feat := geojson.NewFeature(f.Geometry)
		props := make(geojson.Properties, len(f.Attrs)+1)
		for k, v := range f.Attrs {
			props[k] = v
		}
		if f.Tile != "" {
			props["tile"] = f.Tile
		}
		feat.Properties = props
		fc.Append(feat)
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return nil, eris.Wrapf(err, "export: marshal layer %s", layer.ID)
	}

	path := filepath.Join(dir, string(layer.ID)+".geojson")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, eris.Wrapf(err, "export: write %s", path)
	}
	return []string{path}, nil
}
