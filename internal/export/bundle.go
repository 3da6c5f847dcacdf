package export

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/atlas-group/aoi-extract/internal/model"
)

// BundleMetadata is the metadata.json entry written into every bundle.
type BundleMetadata struct {
	RunID         string          `json:"run_id,omitempty"`
	ExportDate    time.Time       `json:"export_date"`
	Format        string          `json:"format"`
	Layers        []BundleLayer   `json:"layers"`
	TotalFeatures int             `json:"total_features"`
	Warnings      []model.Warning `json:"warnings,omitempty"`
}

// BundleLayer summarizes one layer inside a bundle.
type BundleLayer struct {
	ID           model.LayerID `json:"id"`
	FeatureCount int           `json:"feature_count"`
	Files        []string      `json:"files"`
}

// WriteBundle renders every layer with the given format's writer and packs
// the outputs plus metadata.json into a zip archive at path.
func WriteBundle(path, runID, format string, layers []model.Layer) error {
	writer, err := ForFormat(format)
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "aoi-extract-bundle-*")
	if err != nil {
		return eris.Wrap(err, "export: temp dir")
	}
	defer os.RemoveAll(tmp) //nolint:errcheck

	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer out.Close() //nolint:errcheck

	zw := zip.NewWriter(out)

	meta := BundleMetadata{
		RunID:      runID,
		ExportDate: time.Now().UTC(),
		Format:     format,
	}

	for _, layer := range layers {
		files, err := writer.WriteLayer(tmp, layer)
		if err != nil {
			return err
		}

		entry := BundleLayer{ID: layer.ID, FeatureCount: layer.Stats.FeatureCount}
		for _, f := range files {
			name := filepath.Base(f)
			if err := addFile(zw, f, name); err != nil {
				return err
			}
			entry.Files = append(entry.Files, name)
		}
		meta.Layers = append(meta.Layers, entry)
		meta.TotalFeatures += layer.Stats.FeatureCount
		meta.Warnings = append(meta.Warnings, layer.Warnings...)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return eris.Wrap(err, "export: marshal metadata")
	}
	mw, err := zw.Create("metadata.json")
	if err != nil {
		return eris.Wrap(err, "export: create metadata entry")
	}
	if _, err := mw.Write(metaJSON); err != nil {
		return eris.Wrap(err, "export: write metadata")
	}

	if err := zw.Close(); err != nil {
		return eris.Wrap(err, "export: close archive")
	}

	zap.L().Info("bundle written",
		zap.String("path", path),
		zap.String("format", format),
		zap.Int("layers", len(layers)),
		zap.Int("features", meta.TotalFeatures))
	return nil
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "export: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	w, err := zw.Create(name)
	if err != nil {
		return eris.Wrapf(err, "export: create entry %s", name)
	}
	if _, err := io.Copy(w, f); err != nil {
		return eris.Wrapf(err, "export: copy %s", name)
	}
	return nil
}
