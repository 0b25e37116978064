package output

import (
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"

	"github.com/wegman-software/osmboundaries-go/internal/geom"
	"github.com/wegman-software/osmboundaries-go/internal/multipolygon"
	"github.com/wegman-software/osmboundaries-go/internal/proj"
)

// Output layers
const (
	LayerAdministrative = "administrative"
	LayerPoint          = "administrative_point"
)

// Layers lists every output layer in write order
var Layers = []string{LayerAdministrative, LayerPoint}

// maxNameLength is the width of the name field
const maxNameLength = 100

// ErrWriteFailure wraps every backend error; it aborts the run
var ErrWriteFailure = errors.New("output write failure")

// Feature is one output record
type Feature struct {
	Layer    string
	OSMID    int64
	FromType string
	Area     float64
	Name     string
	Geometry orb.Geometry
}

// Row is a feature with its geometry encoded as EWKB
type Row struct {
	OSMID    int64
	FromType string
	Area     float64
	Name     string
	Geom     []byte
}

// EncodeRow encodes the feature geometry as little-endian EWKB with srid
func EncodeRow(f Feature, srid int) (Row, error) {
	data, err := ewkb.Marshal(f.Geometry, srid)
	if err != nil {
		return Row{}, err
	}
	return Row{
		OSMID:    f.OSMID,
		FromType: f.FromType,
		Area:     f.Area,
		Name:     f.Name,
		Geom:     data,
	}, nil
}

// Features converts an area into one multipolygon feature and one
// point-on-surface feature per polygon part. Areas are measured on the WGS84
// geometry; geometries are projected with transform (nil keeps WGS84) before
// the points are placed, so each point lies inside its projected part. Parts
// without an interior point are skipped and logged; the multipolygon is
// always returned.
func Features(area *multipolygon.Area, transform *proj.Transformer, log *zap.Logger) []Feature {
	name := truncateName(area.Name())
	from := area.Origin.String()
	mp := area.MultiPolygon()
	projected, _ := transform.Geometry(mp).(orb.MultiPolygon)

	feats := make([]Feature, 0, 1+len(mp))
	feats = append(feats, Feature{
		Layer:    LayerAdministrative,
		OSMID:    area.ID,
		FromType: from,
		Area:     planar.Area(mp),
		Name:     name,
		Geometry: projected,
	})

	for i, poly := range projected {
		pt, err := geom.PointOnSurface(poly)
		if err != nil {
			log.Warn("Skipping point for polygon part",
				zap.Int64("osm_id", area.ID),
				zap.String("from_type", from),
				zap.Int("part", i),
				zap.Error(err))
			continue
		}
		feats = append(feats, Feature{
			Layer:    LayerPoint,
			OSMID:    area.ID,
			FromType: from,
			Area:     planar.Area(mp[i]),
			Name:     name,
			Geometry: pt,
		})
	}
	return feats
}

func truncateName(s string) string {
	if r := []rune(s); len(r) > maxNameLength {
		return string(r[:maxNameLength])
	}
	return s
}
