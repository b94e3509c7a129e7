package service

import (
	"fmt"
	"os"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
)

// UnmarshalGeometry parses a geojson document into an aoi geometry
// Features are unwrapped, featureCollections are merged into a single multipolygon
func UnmarshalGeometry(data []byte) (geom.Geometry, error) {
	var g geojson.Geometry
	if err := g.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	switch geo := g.Geometry.(type) {
	case geojson.FeatureCollection:
		mp := geom.MultiPolygon{}
		for _, f := range geo.Features {
			mp = appendPolygons(mp, f.Geometry.Geometry)
		}
		if len(mp) == 0 {
			return nil, fmt.Errorf("no polygon in the featureCollection")
		}
		return mp, nil
	case geojson.Feature:
		return geo.Geometry.Geometry, nil
	default:
		return g.Geometry, nil
	}
}

// ReadGeometryFile loads an AOI from a geojson file (geometry, feature or featureCollection)
func ReadGeometryFile(path string) (geom.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ReadGeometryFile: %w", err)
	}
	g, err := UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("ReadGeometryFile[%s]: %w", path, err)
	}
	return g, nil
}

func appendPolygons(mp geom.MultiPolygon, g geom.Geometry) geom.MultiPolygon {
	switch g := g.(type) {
	case geom.Polygon:
		return append(mp, g.LinearRings())
	case geom.MultiPolygon:
		return append(mp, g.Polygons()...)
	case geom.Collection:
		for _, sub := range g.Geometries() {
			mp = appendPolygons(mp, sub)
		}
	}
	return mp
}
