package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"
)

// GeoJSONPath returns the file holding a layer in dir
func GeoJSONPath(dir, layer string) string {
	return filepath.Join(dir, layer+".geojson")
}

// GeoJSONBackend collects features per layer and writes one
// FeatureCollection file per layer on Close
type GeoJSONBackend struct {
	dir         string
	collections map[string]*geojson.FeatureCollection
}

// NewGeoJSONBackend creates the output directory
func NewGeoJSONBackend(dir string) (*GeoJSONBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	b := &GeoJSONBackend{dir: dir, collections: make(map[string]*geojson.FeatureCollection)}
	for _, layer := range Layers {
		b.collections[layer] = geojson.NewFeatureCollection()
	}
	return b, nil
}

// Write adds a feature to its layer collection
func (b *GeoJSONBackend) Write(ctx context.Context, f Feature) error {
	fc, ok := b.collections[f.Layer]
	if !ok {
		return fmt.Errorf("unknown layer %q", f.Layer)
	}
	feat := geojson.NewFeature(f.Geometry)
	feat.Properties["osm_id"] = f.OSMID
	feat.Properties["from_type"] = f.FromType
	feat.Properties["area"] = f.Area
	feat.Properties["name"] = f.Name
	fc.Append(feat)
	return nil
}

// Close writes the collections to disk
func (b *GeoJSONBackend) Close() error {
	for _, layer := range Layers {
		data, err := b.collections[layer].MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", layer, err)
		}
		if err := os.WriteFile(GeoJSONPath(b.dir, layer), data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", layer, err)
		}
	}
	return nil
}
