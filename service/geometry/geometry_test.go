package geometry

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/paulsmith/gogeos/geos"
)

func TestGeosToGeom(t *testing.T) {
	polygon, err := geos.FromWKT("POLYGON ((20 35, 10 30, 10 10, 30 5, 45 20, 20 35), (30 20, 20 15, 20 25, 30 20))")
	if err != nil {
		t.Error(err)
	}
	g, err := GeosToGeom(polygon)
	if err != nil {
		t.Error(err)
	}
	bytes, err := json.Marshal(geojson.Geometry{Geometry: g})
	if err != nil {
		t.Error(err)
	}
	expected := `{"type":"Polygon","coordinates":[[[20,35],[10,30],[10,10],[30,5],[45,20],[20,35]],[[30,20],[20,15],[20,25],[30,20]]]}`
	if string(bytes) != expected {
		t.Errorf("Expect %s found %s", expected, string(bytes))
	}
}

func checkGeomEquality(wkt1, wkt2 string) error {
	geom1, err := geos.FromWKT(wkt1)
	if err != nil {
		return err
	}
	geom2, err := geos.FromWKT(wkt2)
	if err != nil {
		return err
	}
	if equal, err := geom1.Equals(geom2); err != nil {
		return err
	} else if !equal {
		return fmt.Errorf("Not equal")
	}
	return nil
}

func TestGeom(t *testing.T) {
	wktAOI1 := "POLYGON ((129 -11, 130 -11, 130 -12, 129 -12, 129 -11))"
	wktAOI2 := "POLYGON ((130 -12, 130 -11, 131 -11, 131 -12, 130 -12))"
	wktAOI3 := "POLYGON ((129 -11, 131 -11, 131 -12, 129 -12, 129 -11))"

	if wkt, err := WKTUnion([]string{wktAOI1, wktAOI1}, TOLERANCE_GEOG); err != nil {
		t.Error(err.Error())
	} else if err := checkGeomEquality(wkt, wktAOI1); err != nil {
		t.Errorf("expect %s found %s (%v)", wktAOI1, wkt, err)
	}

	if wkt, err := WKTUnion([]string{wktAOI1, wktAOI2}, TOLERANCE_GEOG); err != nil {
		t.Error(err.Error())
	} else if err := checkGeomEquality(wkt, wktAOI3); err != nil {
		t.Errorf("expect %s found %s (%v)", wktAOI3, wkt, err)
	}
}

func TestCoverage(t *testing.T) {
	aoi := geom.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}}
	left := geom.Polygon{{{0, 0}, {1, 0}, {1, 2}, {0, 2}, {0, 0}}}
	overlapping := geom.Polygon{{{0.5, 0}, {1.5, 0}, {1.5, 2}, {0.5, 2}, {0.5, 0}}}
	beyond := geom.Polygon{{{1.5, 0}, {3, 0}, {3, 2}, {1.5, 2}, {1.5, 0}}}

	if c, err := Coverage(aoi, nil); err != nil || c != 0 {
		t.Errorf("expect 0 without footprints, found %f (%v)", c, err)
	}

	// overlaps are counted once
	c, err := Coverage(aoi, []geom.Geometry{left, overlapping})
	if err != nil {
		t.Error(err)
	}
	if c < 0.75-1e-6 || c > 0.75+1e-6 {
		t.Errorf("expect 0.75 found %f", c)
	}

	// the part of a footprint outside the aoi does not count
	c, err = Coverage(aoi, []geom.Geometry{left, overlapping, beyond})
	if err != nil {
		t.Error(err)
	}
	if c < 1-1e-6 || c > 1+1e-6 {
		t.Errorf("expect 1 found %f", c)
	}
}
