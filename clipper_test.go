package rasterproc

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	gdal "github.com/airbusgeo/godal"
)

// 生成覆盖经度113~114、纬度30~31的100x100测试影像，像元值为行*100+列
func makeTestRaster(t *testing.T, g *Toolbox) string {
	path := filepath.Join(t.TempDir(), "scene.tif")
	ds, err := gdal.Create(gdal.GTiff, path, 1, gdal.Float64, 100, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()
	if err = ds.SetGeoTransform([6]float64{113, 0.01, 0, 31, 0, -0.01}); err != nil {
		t.Fatal(err)
	}
	ref, err := g.getSridRef(UNIVERSAL_SRID)
	if err != nil {
		t.Fatal(err)
	}
	if err = ds.SetSpatialRef(ref); err != nil {
		t.Fatal(err)
	}
	buf := make([]float64, 100*100)
	for row := 0; row < 100; row++ {
		for col := 0; col < 100; col++ {
			buf[row*100+col] = float64(row*100 + col)
		}
	}
	if err = ds.Bands()[0].IO(gdal.IOWrite, 0, 0, buf, 100, 100); err != nil {
		t.Fatal(err)
	}
	return path
}

// 生成10x10常量值测试影像，覆盖经度113~113.1、纬度30.9~31
func makeConstRaster(t *testing.T, g *Toolbox, value float64) string {
	path := filepath.Join(t.TempDir(), "const.tif")
	ds, err := gdal.Create(gdal.GTiff, path, 1, gdal.Float64, 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()
	if err = ds.SetGeoTransform([6]float64{113, 0.01, 0, 31, 0, -0.01}); err != nil {
		t.Fatal(err)
	}
	ref, err := g.getSridRef(UNIVERSAL_SRID)
	if err != nil {
		t.Fatal(err)
	}
	if err = ds.SetSpatialRef(ref); err != nil {
		t.Fatal(err)
	}
	buf := make([]float64, 100)
	for i := range buf {
		buf[i] = value
	}
	if err = ds.Bands()[0].IO(gdal.IOWrite, 0, 0, buf, 10, 10); err != nil {
		t.Fatal(err)
	}
	return path
}

func testAOI(t *testing.T, doc string) *AOIGeometry {
	aoi, err := ParseAOI(AnyJson(doc))
	if err != nil {
		t.Fatal(err)
	}
	return aoi
}

func TestClipToAOIWindow(t *testing.T) {
	g := newTestToolbox(t)
	loader := NewLoader(g)
	src, err := loader.Open(makeTestRaster(t, g))
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	aoi := testAOI(t, `{"type":"Polygon","coordinates":[[[113.2,30.6],[113.4,30.6],[113.4,30.8],[113.2,30.8],[113.2,30.6]]]}`)
	grid, err := loader.ClipToAOI(src, aoi, false, 1)
	if err != nil {
		t.Fatal(err)
	}
	if grid.Width != 20 || grid.Height != 20 {
		t.Fatalf("window %dx%d, want 20x20", grid.Width, grid.Height)
	}
	if math.Abs(grid.Transform[0]-113.2) > eps || math.Abs(grid.Transform[3]-30.8) > eps {
		t.Fatalf("window origin (%v, %v)", grid.Transform[0], grid.Transform[3])
	}
	// 窗口内(10,10)对应全图(30,30)
	if got := grid.Bands[0][10*20+10]; got != 3030 {
		t.Fatalf("center pixel = %v, want 3030", got)
	}
	var valid int
	for _, v := range grid.Bands[0] {
		if !math.IsNaN(v) {
			valid++
		}
	}
	if valid < 350 {
		t.Fatalf("only %d of 400 pixels valid", valid)
	}
}

func TestClipToAOIMasksOutside(t *testing.T) {
	g := newTestToolbox(t)
	loader := NewLoader(g)
	src, err := loader.Open(makeTestRaster(t, g))
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	// 三角形AOI：窗口为外包框，框内三角形以外的像元应为NaN
	aoi := testAOI(t, `{"type":"Polygon","coordinates":[[[113.1,30.1],[113.5,30.1],[113.1,30.5],[113.1,30.1]]]}`)
	grid, err := loader.ClipToAOI(src, aoi, false, 1)
	if err != nil {
		t.Fatal(err)
	}
	var valid, masked int
	for _, v := range grid.Bands[0] {
		if math.IsNaN(v) {
			masked++
		} else {
			valid++
		}
	}
	total := valid + masked
	// 三角形约为外包框面积的一半
	if valid < total/4 || masked < total/4 {
		t.Fatalf("triangle clip: %d valid, %d masked of %d", valid, masked, total)
	}
}

func TestClipToAOINoOverlap(t *testing.T) {
	g := newTestToolbox(t)
	loader := NewLoader(g)
	src, err := loader.Open(makeTestRaster(t, g))
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	aoi := testAOI(t, `{"type":"Polygon","coordinates":[[[120,40],[121,40],[121,41],[120,41],[120,40]]]}`)
	if _, err = loader.ClipToAOI(src, aoi, false, 1); !IsGeometryError(err) {
		t.Fatalf("got %v", err)
	}
}

func TestFetchManyPreservesOrder(t *testing.T) {
	g := newTestToolbox(t)
	loader := NewLoader(g)
	refs := []string{
		makeConstRaster(t, g, 1),
		makeConstRaster(t, g, 2),
		makeConstRaster(t, g, 3),
	}
	grids, err := loader.FetchMany(context.Background(), refs)
	if err != nil {
		t.Fatal(err)
	}
	if len(grids) != len(refs) {
		t.Fatalf("got %d grids", len(grids))
	}
	for i, grid := range grids {
		if got := grid.At(0, 0, 0); got != float64(i+1) {
			t.Fatalf("grid %d pixel = %v, want %d", i, got, i+1)
		}
	}
}

func TestFetchManyFirstError(t *testing.T) {
	g := newTestToolbox(t)
	loader := NewLoader(g)
	refs := []string{
		makeConstRaster(t, g, 1),
		filepath.Join(t.TempDir(), "absent.tif"),
	}
	if _, err := loader.FetchMany(context.Background(), refs); !IsRemoteError(err) {
		t.Fatalf("got %v", err)
	}
	if _, err := loader.FetchMany(context.Background(), nil); !IsInputError(err) {
		t.Fatalf("empty refs: got %v", err)
	}
}

func TestLoaderOpenMissingFile(t *testing.T) {
	g := newTestToolbox(t)
	loader := NewLoader(g)
	if _, err := loader.Open(filepath.Join(t.TempDir(), "absent.tif")); !IsRemoteError(err) {
		t.Fatalf("got %v", err)
	}
}

func TestLoaderLoadMapsNoDataToNaN(t *testing.T) {
	g := newTestToolbox(t)
	path := filepath.Join(t.TempDir(), "nd.tif")
	ds, err := gdal.Create(gdal.GTiff, path, 1, gdal.Float64, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err = ds.SetGeoTransform([6]float64{0, 1, 0, 0, 0, -1}); err != nil {
		t.Fatal(err)
	}
	ref, err := g.getSridRef(UNIVERSAL_SRID)
	if err != nil {
		t.Fatal(err)
	}
	if err = ds.SetSpatialRef(ref); err != nil {
		t.Fatal(err)
	}
	if err = ds.SetNoData(-1); err != nil {
		t.Fatal(err)
	}
	if err = ds.Bands()[0].IO(gdal.IOWrite, 0, 0, []float64{-1, 42}, 2, 1); err != nil {
		t.Fatal(err)
	}
	if err = ds.Close(); err != nil {
		t.Fatal(err)
	}
	grid, err := NewLoader(g).Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(grid.Bands[0][0]) || grid.Bands[0][1] != 42 {
		t.Fatalf("pixels = %v, %v", grid.Bands[0][0], grid.Bands[0][1])
	}
}
