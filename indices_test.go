package rasterproc

import (
	"math"
	"math/rand"
	"testing"
)

const eps = 1e-9

func gridFrom(data []float64, w, h int) *RasterGrid {
	return &RasterGrid{
		Bands:  [][]float64{data},
		Width:  w,
		Height: h,
		NoData: math.NaN(),
	}
}

func TestNDVI(t *testing.T) {
	nir := []float64{0.5}
	red := []float64{0.2}
	got := NDVI(nir, red)[0]
	want := 0.3 / 0.7
	if math.Abs(got-want) > eps {
		t.Fatalf("NDVI = %v, want %v", got, want)
	}
}

func TestSAVIWithZeroLEqualsNDVI(t *testing.T) {
	nir := []float64{0.8, 0.31, 0.02, 0.66}
	red := []float64{0.1, 0.29, 0.77, 0.04}
	savi := SAVI(nir, red, 0)
	ndvi := NDVI(nir, red)
	for i := range savi {
		if savi[i] != ndvi[i] {
			t.Fatalf("pixel %d: SAVI(L=0) = %v, NDVI = %v", i, savi[i], ndvi[i])
		}
	}
}

func TestEVI(t *testing.T) {
	// 2.5*(0.5-0.2) / (0.5+6*0.2-7.5*0.1+1) = 0.75/1.95
	got := EVI([]float64{0.5}, []float64{0.2}, []float64{0.1})[0]
	want := 0.75 / 1.95
	if math.Abs(got-want) > eps {
		t.Fatalf("EVI = %v, want %v", got, want)
	}
}

func TestVGI(t *testing.T) {
	if got := VGI([]float64{0.4}, []float64{0.2})[0]; math.Abs(got-2) > eps {
		t.Fatalf("VGI = %v, want 2", got)
	}
	if got := VGI([]float64{0.4}, []float64{0})[0]; got != 0 {
		t.Fatalf("VGI with zero red = %v, want 0", got)
	}
}

func TestZeroDenominatorNeverNaNOrInf(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n := 1000
	nir := make([]float64, n)
	red := make([]float64, n)
	blue := make([]float64, n)
	green := make([]float64, n)
	for i := 0; i < n; i++ {
		v := rng.Float64()
		nir[i] = v
		red[i] = -v // 保证NDVI分母为零
		blue[i] = rng.Float64()
		green[i] = rng.Float64()
	}
	for _, out := range [][]float64{NDVI(nir, red), SAVI(nir, red, -0.0), VGI(green, make([]float64, n))} {
		for i, v := range out {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("pixel %d: got %v", i, v)
			}
		}
	}
}

func TestIndexNaNPropagates(t *testing.T) {
	nan := math.NaN()
	out := NDVI([]float64{nan, 0.5}, []float64{0.2, nan})
	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Fatalf("NaN input must yield NaN, got %v", out)
	}
}

func TestIndexNotClamped(t *testing.T) {
	// EVI可超出[-1,1]，不应被截断
	got := EVI([]float64{1.0}, []float64{0.0}, []float64{0.12})[0]
	want := 2.5 / 0.1
	if math.Abs(got-want) > eps {
		t.Fatalf("EVI = %v, want %v (unclamped)", got, want)
	}
}

func TestComputeIndex(t *testing.T) {
	bands := map[string]*RasterGrid{
		BAND_NIR: gridFrom([]float64{0.5, 0.6}, 2, 1),
		BAND_RED: gridFrom([]float64{0.2, 0.3}, 2, 1),
	}
	bands[BAND_NIR].SRS = "fake"
	grid, err := ComputeIndex("ndvi", bands)
	if err != nil {
		t.Fatal(err)
	}
	if grid.Tag != "NDVI" || grid.Width != 2 || grid.Height != 1 || len(grid.Bands) != 1 {
		t.Fatalf("unexpected grid: %+v", grid)
	}
	if math.Abs(grid.Bands[0][0]-0.3/0.7) > eps {
		t.Fatalf("NDVI pixel = %v", grid.Bands[0][0])
	}
	if grid.SRS != "fake" {
		t.Fatal("georef must come from first input band")
	}
}

func TestComputeIndexErrors(t *testing.T) {
	bands := map[string]*RasterGrid{
		BAND_NIR: gridFrom([]float64{0.5}, 1, 1),
	}
	if _, err := ComputeIndex("FOO", bands); !IsInputError(err) {
		t.Fatalf("unknown index: got %v", err)
	}
	if _, err := ComputeIndex("NDVI", bands); !IsInputError(err) {
		t.Fatalf("missing band: got %v", err)
	}
	bands[BAND_RED] = gridFrom([]float64{0.1, 0.2}, 2, 1)
	if _, err := ComputeIndex("NDVI", bands); !IsInputError(err) {
		t.Fatalf("shape mismatch: got %v", err)
	}
}

func TestComputeExpression(t *testing.T) {
	bands := map[string]*RasterGrid{
		"nir": gridFrom([]float64{0.5, 0.6}, 2, 1),
		"red": gridFrom([]float64{0.2, 0.3}, 2, 1),
	}
	grid, err := ComputeExpression("(nir - red) / (nir + red)", bands)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(grid.Bands[0][0]-0.3/0.7) > eps {
		t.Fatalf("expression pixel = %v", grid.Bands[0][0])
	}
	if _, err = ComputeExpression("(nir - swir)", bands); !IsInputError(err) {
		t.Fatalf("unknown variable: got %v", err)
	}
	if _, err = ComputeExpression("nir +* red", bands); !IsInputError(err) {
		t.Fatalf("malformed expression: got %v", err)
	}
	if _, err = ComputeExpression("1 + 2", bands); !IsInputError(err) {
		t.Fatalf("expression without band variable: got %v", err)
	}
}
