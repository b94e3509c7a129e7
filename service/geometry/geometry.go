package geometry

import (
	"fmt"

	"github.com/go-spatial/geom"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
	"github.com/paulsmith/gogeos/geos"
)

func mergeMultiPolygons(g geom.Geometry, mp *geom.MultiPolygon) error {
	switch g := g.(type) {
	case geom.MultiPolygon:
		*mp = append(*mp, g.Polygons()...)
	case geom.Polygon:
		*mp = append(*mp, g.LinearRings())
	case geom.Collection:
		for _, g := range g.Geometries() {
			if err := mergeMultiPolygons(g, mp); err != nil {
				return err
			}
		}
	}
	return nil
}

// Generates a geom.Geometry from a geos.Geometry
func GeosToGeom(g *geos.Geometry) (geom.Geometry, error) {
	wkt, err := g.ToWKT()
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.ToWKT: %w", err)
	}
	geometry, err := geomwkt.DecodeString(wkt)
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.DecodeString: %w", err)
	}

	return geometry, nil
}

// Generates a geos.Geometry from a geom.Geometry, merging polygonal
// collections into a multipolygon
func GeomToGeos(g geom.Geometry) (*geos.Geometry, error) {
	mp := geom.MultiPolygon{}
	if err := mergeMultiPolygons(g, &mp); err != nil {
		return nil, fmt.Errorf("GeomToGeos.MergeMultiPolygons: %w", err)
	}
	if len(mp) > 0 {
		g = mp
	}
	geometry, err := geos.FromWKT(geomwkt.MustEncode(g))
	if err != nil {
		return nil, fmt.Errorf("GeomToGeos.FromWKT: %w", err)
	}
	return geometry, nil
}

var TOLERANCE_GEOG = 0.000001

func WKTUnion(wkts []string, tolerance float64) (string, error) {
	var geoms []*geos.Geometry
	for _, wkt := range wkts {
		geo, err := geos.FromWKT(wkt)
		if err != nil {
			return "", fmt.Errorf("WKTUnion.FromWKT: %w", err)
		}
		geoms = append(geoms, geo)
	}
	aoi, err := Union(geoms, tolerance)
	if err != nil {
		return "", fmt.Errorf("WKTUnion.%w", err)
	}
	wkt, err := aoi.ToWKT()
	if err != nil {
		return "", fmt.Errorf("WKTUnion.ToWKT: %w", err)
	}
	return wkt, nil
}

func Union(geoms []*geos.Geometry, tolerance float64) (*geos.Geometry, error) {
	aoi, err := UnaryUnion(geoms)
	if err == nil {
		if aoi, err = aoi.Simplify(tolerance); err != nil {
			return nil, fmt.Errorf("Union.Simplify: %w", err)
		}
		return aoi, nil
	}
	// Union all failed, retry one by one with simplify
	for _, geom := range geoms {
		if geom, err = geom.Simplify(tolerance); err != nil {
			return nil, fmt.Errorf("Union.Simplify: %w", err)
		}
		if aoi, err = geom.Union(aoi); err != nil {
			return nil, fmt.Errorf("Union: %w", err)
		}
	}
	return aoi, nil
}

func UnaryUnion(geoms []*geos.Geometry) (*geos.Geometry, error) {
	aoi, err := geos.NewCollection(geos.MULTIPOLYGON, geoms...)
	if err != nil {
		return nil, fmt.Errorf("UnaryUnion.NewCollection: %w", err)
	}
	if aoi, err = aoi.UnaryUnion(); err != nil {
		return nil, fmt.Errorf("UnaryUnion.UnaryUnion: %w", err)
	}
	return aoi, nil
}

// Coverage returns the fraction of the aoi covered by the union of the
// footprints. It is informational only and fairly coarse: geometries are
// simplified with TOLERANCE_GEOG before the union
func Coverage(aoi geom.Geometry, footprints []geom.Geometry) (float64, error) {
	if len(footprints) == 0 {
		return 0, nil
	}
	geosAOI, err := GeomToGeos(aoi)
	if err != nil {
		return 0, fmt.Errorf("Coverage.%w", err)
	}
	var geoms []*geos.Geometry
	for _, footprint := range footprints {
		g, err := GeomToGeos(footprint)
		if err != nil {
			return 0, fmt.Errorf("Coverage.%w", err)
		}
		geoms = append(geoms, g)
	}
	covered, err := Union(geoms, TOLERANCE_GEOG)
	if err != nil {
		return 0, fmt.Errorf("Coverage.%w", err)
	}
	if covered, err = covered.Intersection(geosAOI); err != nil {
		return 0, fmt.Errorf("Coverage.Intersection: %w", err)
	}
	aoiArea, err := geosAOI.Area()
	if err != nil {
		return 0, fmt.Errorf("Coverage.Area: %w", err)
	}
	if aoiArea == 0 {
		return 0, nil
	}
	coveredArea, err := covered.Area()
	if err != nil {
		return 0, fmt.Errorf("Coverage.Area: %w", err)
	}
	return coveredArea / aoiArea, nil
}
