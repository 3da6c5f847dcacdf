package export

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/atlas-group/aoi-extract/internal/model"
)

// csvWriter renders a layer's attribute table. Geometry is dropped; CSV
// output is meant for joining attributes against a spatial format.
type csvWriter struct{}

func (w *csvWriter) Format() string { return FormatCSV }

func (w *csvWriter) WriteLayer(dir string, layer model.Layer) ([]string, error) {
	path := filepath.Join(dir, string(layer.ID)+".csv")
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	cw := csv.NewWriter(f)
	cols := columns(layer)
	if err := cw.Write(cols); err != nil {
		return nil, eris.Wrap(err, "export: write header")
	}

	row := make([]string, len(cols))
	for _, feat := range layer.Features {
		for i, col := range cols {
			row[i] = cellValue(feat, col)
		}
		if err := cw.Write(row); err != nil {
			return nil, eris.Wrap(err, "export: write row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, eris.Wrap(err, "export: flush csv")
	}
	return []string{path}, nil
}
