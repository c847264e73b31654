package rasterproc

import (
	"strings"
	"testing"
)

const polygonJSON = `{"type":"Polygon","coordinates":[[[113.5,30.0],[114.5,30.0],[114.5,31.0],[113.5,31.0],[113.5,30.0]]]}`

func TestParseAOIBareGeometry(t *testing.T) {
	aoi, err := ParseAOI(AnyJson(polygonJSON))
	if err != nil {
		t.Fatal(err)
	}
	if len(aoi.Polygons) != 1 || len(aoi.Polygons[0]) != 1 || len(aoi.Polygons[0][0]) != 5 {
		t.Fatalf("unexpected shape: %+v", aoi.Polygons)
	}
}

func TestParseAOIFeature(t *testing.T) {
	doc := `{"type":"Feature","properties":{},"geometry":` + polygonJSON + `}`
	aoi, err := ParseAOI(AnyJson(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(aoi.Polygons) != 1 {
		t.Fatalf("got %d polygons", len(aoi.Polygons))
	}
}

func TestParseAOIFeatureCollection(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":` + polygonJSON + `}]}`
	aoi, err := ParseAOI(AnyJson(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(aoi.Polygons) != 1 {
		t.Fatalf("got %d polygons", len(aoi.Polygons))
	}
}

func TestParseAOIMultiPolygon(t *testing.T) {
	doc := `{"type":"MultiPolygon","coordinates":[
		[[[0,0],[1,0],[1,1],[0,1],[0,0]]],
		[[[2,2],[3,2],[3,3],[2,3],[2,2]]]
	]}`
	aoi, err := ParseAOI(AnyJson(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(aoi.Polygons) != 2 {
		t.Fatalf("got %d polygons, want 2", len(aoi.Polygons))
	}
}

func TestParseAOIRejections(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"Point","coordinates":[1,2]}`,
		`{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}`,
		`{"type":"FeatureCollection","features":[]}`,
		// 环未闭合
		`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1]]]}`,
		// 顶点不足
		`{"type":"Polygon","coordinates":[[[0,0],[1,0],[0,0]]]}`,
		// 经度越界
		`{"type":"Polygon","coordinates":[[[200,0],[201,0],[201,1],[200,1],[200,0]]]}`,
	}
	for i, doc := range cases {
		if _, err := ParseAOI(AnyJson(doc)); !IsInputError(err) {
			t.Fatalf("case %d: got %v", i, err)
		}
	}
}

func TestAOIWkt(t *testing.T) {
	aoi, err := ParseAOI(AnyJson(polygonJSON))
	if err != nil {
		t.Fatal(err)
	}
	wkt := aoi.WKT()
	if !strings.HasPrefix(wkt, "MULTIPOLYGON") {
		t.Fatalf("wkt = %q", wkt)
	}
	if !strings.Contains(wkt, "113.5 30") {
		t.Fatalf("wkt missing vertex: %q", wkt)
	}
}

func TestAOIBBox(t *testing.T) {
	aoi, err := ParseAOI(AnyJson(polygonJSON))
	if err != nil {
		t.Fatal(err)
	}
	bbox := aoi.BBox()
	want := [4]float64{113.5, 30, 114.5, 31}
	if bbox != want {
		t.Fatalf("bbox = %v, want %v", bbox, want)
	}
}

func TestPointsToWktClosesRing(t *testing.T) {
	wkt := PointsToWkt([][2]float64{{0, 0}, {1, 0}, {1, 1}})
	if !strings.HasSuffix(wkt, "0 0))") {
		t.Fatalf("ring not closed: %q", wkt)
	}
}
