package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/atlas-group/aoi-extract/internal/model"
)

// wgs84WKT is the .prj content for EPSG:4326; go-shp does not write one.
const wgs84WKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// shapefileWriter renders a layer as an ESRI shapefile. The shape type
// follows the layer's geometry family; attributes go into the DBF as
// strings under names truncated to the 10-character DBF limit.
type shapefileWriter struct{}

func (w *shapefileWriter) Format() string { return FormatShapefile }

func (w *shapefileWriter) WriteLayer(dir string, layer model.Layer) ([]string, error) {
	base := filepath.Join(dir, string(layer.ID))
	shpPath := base + ".shp"

	sw, err := shp.Create(shpPath, shapeType(layer.ID.Family()))
	if err != nil {
		return nil, eris.Wrapf(err, "export: create %s", shpPath)
	}

	cols := columns(layer)
	fields := make([]shp.Field, len(cols))
	used := make(map[string]bool, len(cols))
	for i, name := range cols {
		fields[i] = shp.StringField(dbfName(name, used), 254)
	}
	if err := sw.SetFields(fields); err != nil {
		sw.Close()
		return nil, eris.Wrap(err, "export: set dbf fields")
	}

	var skipped int
	row := 0
	for _, feat := range layer.Features {
		shape := toShape(feat.Geometry)
		if shape == nil {
			skipped++
			continue
		}
		sw.Write(shape)
		for i, col := range cols {
			if err := sw.WriteAttribute(row, i, cellValue(feat, col)); err != nil {
				sw.Close()
				return nil, eris.Wrapf(err, "export: write attribute %s", col)
			}
		}
		row++
	}

	sw.Close()

	// go-shp writes the DBF to "<base>dbf" (dot missing); move it to the
	// conventional sidecar path.
	dbfPath := base + ".dbf"
	if err := os.Rename(base+"dbf", dbfPath); err != nil {
		return nil, eris.Wrapf(err, "export: rename dbf for %s", shpPath)
	}
	if skipped > 0 {
		zap.L().Warn("features skipped during shapefile export",
			zap.String("layer", string(layer.ID)),
			zap.Int("skipped", skipped))
	}

	prjPath := base + ".prj"
	if err := os.WriteFile(prjPath, []byte(wgs84WKT), 0o644); err != nil {
		return nil, eris.Wrapf(err, "export: write %s", prjPath)
	}

	return []string{shpPath, base + ".shx", dbfPath, prjPath}, nil
}

func shapeType(family model.GeometryFamily) shp.ShapeType {
	switch family {
	case model.FamilyLine:
		return shp.POLYLINE
	case model.FamilyPoint:
		return shp.POINT
	default:
		return shp.POLYGON
	}
}

// dbfName maps a column to a unique DBF field name: uppercased, truncated
// to 10 characters, suffixed with a counter on collision. The used set is
// updated with the chosen name.
func dbfName(col string, used map[string]bool) string {
	name := strings.ToUpper(col)
	if len(name) > 10 {
		name = name[:10]
	}
	for i := 2; used[name]; i++ {
		suffix := fmt.Sprintf("_%d", i)
		base := strings.ToUpper(col)
		if len(base) > 10-len(suffix) {
			base = base[:10-len(suffix)]
		}
		name = base + suffix
	}
	used[name] = true
	return name
}

func toShape(g orb.Geometry) shp.Shape {
	switch t := g.(type) {
	case orb.Point:
		return &shp.Point{X: t[0], Y: t[1]}
	case orb.LineString:
		return shp.NewPolyLine([][]shp.Point{shpPoints(t)})
	case orb.MultiLineString:
		parts := make([][]shp.Point, len(t))
		for i, l := range t {
			parts[i] = shpPoints(l)
		}
		return shp.NewPolyLine(parts)
	case orb.Ring:
		return toShape(orb.Polygon{t})
	case orb.Polygon:
		return (*shp.Polygon)(shp.NewPolyLine(ringParts(t)))
	case orb.MultiPolygon:
		var parts [][]shp.Point
		for _, p := range t {
			parts = append(parts, ringParts(p)...)
		}
		return (*shp.Polygon)(shp.NewPolyLine(parts))
	default:
		return nil
	}
}

func ringParts(p orb.Polygon) [][]shp.Point {
	parts := make([][]shp.Point, len(p))
	for i, r := range p {
		parts[i] = shpPoints(orb.LineString(r))
	}
	return parts
}

func shpPoints(l orb.LineString) []shp.Point {
	pts := make([]shp.Point, len(l))
	for i, p := range l {
		pts[i] = shp.Point{X: p[0], Y: p[1]}
	}
	return pts
}
