package export

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/atlas-group/aoi-extract/internal/model"
)

// xlsxWriter renders a layer's attribute table as a single-sheet workbook,
// same columns as the CSV writer.
type xlsxWriter struct{}

func (w *xlsxWriter) Format() string { return FormatXLSX }

func (w *xlsxWriter) WriteLayer(dir string, layer model.Layer) ([]string, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(string(layer.ID))
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", layer.ID)
	}

	cols := columns(layer)
	header := sheet.AddRow()
	for _, col := range cols {
		header.AddCell().Value = col
	}

	for _, feat := range layer.Features {
		row := sheet.AddRow()
		for _, col := range cols {
			row.AddCell().Value = cellValue(feat, col)
		}
	}

	path := filepath.Join(dir, string(layer.ID)+".xlsx")
	if err := file.Save(path); err != nil {
		return nil, eris.Wrapf(err, "export: save %s", path)
	}
	return []string{path}, nil
}
