package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-group/aoi-extract/internal/model"
)

func TestLoadRegistry_CoversAllLayers(t *testing.T) {
	reg, err := LoadRegistry()
	require.NoError(t, err)

	for _, layer := range model.AllLayers() {
		spec, ok := reg.Spec(layer)
		require.True(t, ok, "layer %s missing", layer)
		assert.Contains(t, []string{"tiled", "query", "static"}, spec.Kind)
		assert.NotEmpty(t, spec.Fields)
	}
}

func TestLoadRegistry_FieldDefaults(t *testing.T) {
	reg, err := LoadRegistry()
	require.NoError(t, err)

	for _, layer := range model.AllLayers() {
		for _, f := range reg.Fields(layer) {
			assert.NotEmpty(t, f.From, "%s.%s has no source key", layer, f.Name)
			assert.Contains(t, []string{"string", "float"}, f.Type)
		}
	}
}

func TestLoadRegistry_QueryTagFilters(t *testing.T) {
	reg, err := LoadRegistry()
	require.NoError(t, err)

	roads, _ := reg.Spec(model.LayerRoadsOSM)
	assert.Equal(t, "query", roads.Kind)
	assert.Equal(t, "highway", roads.Tag)
	assert.Empty(t, roads.Values)

	parks, _ := reg.Spec(model.LayerParksOSM)
	assert.Equal(t, "leisure", parks.Tag)
	assert.Equal(t, []string{"park", "garden", "recreation_ground"}, parks.Values)

	buildings, _ := reg.Spec(model.LayerBuildingsMS)
	assert.Equal(t, "tiled", buildings.Kind)

	countries, _ := reg.Spec(model.LayerCountriesNE)
	assert.Equal(t, "static", countries.Kind)
}
