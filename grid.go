package rasterproc

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// 内存栅格：若干同尺寸波段加地理参照，缺失值统一以NaN表示
type RasterGrid struct {
	Bands     [][]float64
	Width     int
	Height    int
	SRS       string // WKT
	Transform [6]float64
	NoData    float64
	Tag       string
}

func NewRasterGrid(nBands, width, height int) *RasterGrid {
	bands := make([][]float64, nBands)
	for i := range bands {
		bands[i] = make([]float64, width*height)
	}
	return &RasterGrid{
		Bands:  bands,
		Width:  width,
		Height: height,
		NoData: math.NaN(),
	}
}

func (g *RasterGrid) Copy() *RasterGrid {
	out := &RasterGrid{
		Bands:     make([][]float64, len(g.Bands)),
		Width:     g.Width,
		Height:    g.Height,
		SRS:       g.SRS,
		Transform: g.Transform,
		NoData:    g.NoData,
		Tag:       g.Tag,
	}
	for i, b := range g.Bands {
		out.Bands[i] = make([]float64, len(b))
		copy(out.Bands[i], b)
	}
	return out
}

func (g *RasterGrid) Band(i int) (band []float64, err error) {
	if i < 0 || i >= len(g.Bands) {
		err = ErrWrongBandIndex
		return
	}
	band = g.Bands[i]
	return
}

func (g *RasterGrid) At(band, x, y int) float64 {
	return g.Bands[band][y*g.Width+x]
}

func (g *RasterGrid) Set(band, x, y int, v float64) {
	g.Bands[band][y*g.Width+x] = v
}

func (g *RasterGrid) checkGeoref() error {
	if g.SRS == "" || g.Transform == [6]float64{} {
		return ErrGridMeta
	}
	return nil
}

// 地理范围 (minX, minY, maxX, maxY)
func (g *RasterGrid) Bounds() (bounds [4]float64, err error) {
	if err = g.checkGeoref(); err != nil {
		return
	}
	x0, y0 := applyGeoTransform(g.Transform, 0, 0)
	x1, y1 := applyGeoTransform(g.Transform, float64(g.Width), float64(g.Height))
	bounds = [4]float64{
		math.Min(x0, x1), math.Min(y0, y1),
		math.Max(x0, x1), math.Max(y0, y1),
	}
	return
}

func (g *RasterGrid) FootprintWKT() (wkt string, err error) {
	bounds, err := g.Bounds()
	if err != nil {
		return
	}
	wkt = SpanToWkt(bounds[0], bounds[1], bounds[2], bounds[3])
	return
}

// 单波段统计量（忽略NaN）
func (g *RasterGrid) Stats(band int) (min, max, mean float64, valid int, err error) {
	data, err := g.Band(band)
	if err != nil {
		return
	}
	finite := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	valid = len(finite)
	if valid == 0 {
		min, max, mean = math.NaN(), math.NaN(), math.NaN()
		return
	}
	min = floats.Min(finite)
	max = floats.Max(finite)
	mean = stat.Mean(finite, nil)
	return
}

func sameShape(a, b *RasterGrid) bool {
	return a.Width == b.Width && a.Height == b.Height
}
