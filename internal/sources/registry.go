package sources

import (
	_ "embed"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/atlas-group/aoi-extract/internal/model"
)

//go:embed mappings.yaml
var mappingsYAML []byte

// FieldSpec maps one upstream attribute onto a canonical schema field.
type FieldSpec struct {
	// Name is the canonical field name.
	Name string `yaml:"name"`

	// From is the upstream attribute key. Defaults to Name.
	From string `yaml:"from"`

	// Type is "string" or "float". Defaults to "string".
	Type string `yaml:"type"`

	// Default fills the field when the upstream attribute is missing.
	Default any `yaml:"default"`

	// Required fields count toward attribute-completeness statistics.
	Required bool `yaml:"required"`
}

// SourceSpec describes how one layer's upstream source is accessed and how
// its attributes map onto the canonical schema.
type SourceSpec struct {
	// Kind is "tiled", "query", or "static".
	Kind string `yaml:"kind"`

	// Tag is the feature-class key for query sources (e.g. "highway").
	Tag string `yaml:"tag"`

	// Values restricts Tag to specific values. Empty means any value.
	Values []string `yaml:"values"`

	// Fields is the canonical field mapping for the layer.
	Fields []FieldSpec `yaml:"fields"`
}

// Registry holds the per-layer source descriptors.
type Registry struct {
	specs map[model.LayerID]SourceSpec
}

// LoadRegistry parses the embedded source descriptors and validates that
// every known layer has one.
func LoadRegistry() (*Registry, error) {
	var doc struct {
		Sources map[string]SourceSpec `yaml:"sources"`
	}
	if err := yaml.Unmarshal(mappingsYAML, &doc); err != nil {
		return nil, eris.Wrap(err, "registry: parse mappings")
	}

	specs := make(map[model.LayerID]SourceSpec, len(doc.Sources))
	for name, spec := range doc.Sources {
		layer := model.LayerID(name)
		if !layer.Valid() {
			return nil, eris.Errorf("registry: unknown layer %q in mappings", name)
		}
		for i := range spec.Fields {
			if spec.Fields[i].From == "" {
				spec.Fields[i].From = spec.Fields[i].Name
			}
			if spec.Fields[i].Type == "" {
				spec.Fields[i].Type = "string"
			}
		}
		specs[layer] = spec
	}

	for _, layer := range model.AllLayers() {
		if _, ok := specs[layer]; !ok {
			return nil, eris.Errorf("registry: layer %q has no source descriptor", layer)
		}
	}

	return &Registry{specs: specs}, nil
}

// Spec returns the descriptor for a layer.
func (r *Registry) Spec(layer model.LayerID) (SourceSpec, bool) {
	spec, ok := r.specs[layer]
	return spec, ok
}

// Fields returns the canonical field mapping for a layer, or nil when the
// layer is unknown.
func (r *Registry) Fields(layer model.LayerID) []FieldSpec {
	return r.specs[layer].Fields
}
