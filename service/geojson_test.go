package service

import (
	"testing"

	"github.com/go-spatial/geom"
)

const polygonJSON = `{"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 1], [0, 0]]]}`

func TestUnmarshalGeometry(t *testing.T) {
	g, err := UnmarshalGeometry([]byte(polygonJSON))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(geom.Polygon); !ok {
		t.Errorf("expected a polygon, got %T", g)
	}

	g, err = UnmarshalGeometry([]byte(`{"type": "Feature", "properties": {}, "geometry": ` + polygonJSON + `}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(geom.Polygon); !ok {
		t.Errorf("expected the feature geometry, got %T", g)
	}
}

func TestUnmarshalFeatureCollection(t *testing.T) {
	doc := `{"type": "FeatureCollection", "features": [
		{"type": "Feature", "properties": {}, "geometry": ` + polygonJSON + `},
		{"type": "Feature", "properties": {}, "geometry": {"type": "Polygon", "coordinates": [[[1, 0], [2, 0], [2, 1], [1, 1], [1, 0]]]}}
	]}`
	g, err := UnmarshalGeometry([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	mp, ok := g.(geom.MultiPolygon)
	if !ok {
		t.Fatalf("expected a multipolygon, got %T", g)
	}
	if len(mp.Polygons()) != 2 {
		t.Errorf("expected 2 polygons, got %d", len(mp.Polygons()))
	}

	if _, err := UnmarshalGeometry([]byte(`{"type": "FeatureCollection", "features": []}`)); err == nil {
		t.Error("expected an error for an empty featureCollection")
	}
}
