package output

import (
	"context"
	"os"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

func writeTestArea(t *testing.T, b Backend) {
	t.Helper()
	w := NewWriter(b, nil, zap.NewNop())
	if err := w.Add(context.Background(), testArea()); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestParquetBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := NewParquetBackend(dir, 1, 4326)
	if err != nil {
		t.Fatal(err)
	}
	writeTestArea(t, b)

	var rows []Row
	n, err := ReadParquet(context.Background(), ParquetPath(dir, LayerAdministrative), func(r Row) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(rows) != 1 {
		t.Fatalf("read %d rows, want 1", n)
	}
	r := rows[0]
	if r.OSMID != 42 || r.FromType != "r" || r.Name != "Testland" || r.Area != 97 {
		t.Errorf("unexpected row %+v", r)
	}
	g, srid, err := ewkb.Unmarshal(r.Geom)
	if err != nil {
		t.Fatal(err)
	}
	if srid != 4326 {
		t.Errorf("srid = %d", srid)
	}
	if mp, ok := g.(orb.MultiPolygon); !ok || len(mp) != 2 || len(mp[0]) != 2 {
		t.Errorf("decoded geometry %v", g)
	}

	n, err = ReadParquet(context.Background(), ParquetPath(dir, LayerPoint), func(Row) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("point layer has %d rows, want 2", n)
	}
}

func TestReadParquetMissingFile(t *testing.T) {
	if _, err := ReadParquet(context.Background(), ParquetPath(t.TempDir(), "nope"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGeoJSONBackend(t *testing.T) {
	dir := t.TempDir()
	b, err := NewGeoJSONBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	writeTestArea(t, b)

	tests := []struct {
		layer string
		count int
		gtype string
	}{
		{LayerAdministrative, 1, "MultiPolygon"},
		{LayerPoint, 2, "Point"},
	}
	for _, tt := range tests {
		t.Run(tt.layer, func(t *testing.T) {
			data, err := os.ReadFile(GeoJSONPath(dir, tt.layer))
			if err != nil {
				t.Fatal(err)
			}
			fc, err := geojson.UnmarshalFeatureCollection(data)
			if err != nil {
				t.Fatal(err)
			}
			if len(fc.Features) != tt.count {
				t.Fatalf("got %d features, want %d", len(fc.Features), tt.count)
			}
			f := fc.Features[0]
			if f.Geometry.GeoJSONType() != tt.gtype {
				t.Errorf("geometry type = %s", f.Geometry.GeoJSONType())
			}
			if f.Properties.MustString("name") != "Testland" || f.Properties.MustString("from_type") != "r" {
				t.Errorf("properties = %v", f.Properties)
			}
			if f.Properties.MustFloat64("osm_id") != 42 {
				t.Errorf("osm_id = %v", f.Properties["osm_id"])
			}
		})
	}
}

func TestPostGISBackend(t *testing.T) {
	dsn := os.Getenv("OSMBOUNDARIES_TEST_DSN")
	if dsn == "" {
		t.Skip("OSMBOUNDARIES_TEST_DSN not set")
	}
	ctx := context.Background()
	b, err := NewPostGISBackend(ctx, PostGISOptions{ConnString: dsn, Schema: "osmboundaries_test", SRID: 4326, BatchSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	writeTestArea(t, b)
	if got := b.Loaded()[LayerPoint]; got != 2 {
		t.Errorf("loaded %d points, want 2", got)
	}
}
