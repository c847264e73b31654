package rasterproc

import (
	"fmt"
	"math"

	gdal "github.com/airbusgeo/godal"
	"go.uber.org/zap"

	"github.com/geoflux/rasterproc/log"
)

// 按感兴趣区裁剪数据源：先求AOI与影像footprint的交集确定读取窗口，
// 再栅格化交集几何将窗口内AOI以外的像元置为NaN。
// AOI坐标系为EPSG:4326，与影像坐标系不一致时先行转换。
func (l *Loader) ClipToAOI(src *Source, aoi *AOIGeometry, allTouched bool, bands ...int) (grid *RasterGrid, err error) {
	g := l.g
	wgs84, err := g.getSridRef(UNIVERSAL_SRID)
	if err != nil {
		return
	}
	aoiGeo, err := g.geoFromWkt(aoi.WKT(), wgs84)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidAOI, err)
		return
	}
	defer aoiGeo.Close()

	rasterRef, err := g.parseWKT(src.SRS)
	if err != nil {
		err = fmt.Errorf("%w: %s: bad SRS", ErrReadFailed, src.Ref)
		return
	}
	defer rasterRef.Close()
	if err = g.transformGeo(aoiGeo, wgs84, rasterRef); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidAOI, err)
		return
	}

	x0, y0 := applyGeoTransform(src.Transform, 0, 0)
	x1, y1 := applyGeoTransform(src.Transform, float64(src.Width), float64(src.Height))
	footWkt := SpanToWkt(math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1))
	footGeo, err := g.geoFromWkt(footWkt, rasterRef)
	if err != nil {
		return
	}
	defer footGeo.Close()

	inter, err := aoiGeo.Intersection(footGeo)
	if err != nil {
		log.Error(g.logTag+"intersection failed", zap.String("ref", src.Ref), zap.Error(err))
		return
	}
	defer inter.Close()
	if inter.Empty() {
		aoiBBox := aoi.BBox()
		err = fmt.Errorf("%w: AOI bbox %v vs raster extent [%g %g %g %g] of %s",
			ErrNoOverlap, aoiBBox, math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1), src.Ref)
		return
	}

	bounds, err := inter.Bounds()
	if err != nil {
		return
	}
	xOff, yOff, w, h := windowFromBounds(src.Transform, src.Width, src.Height, bounds)
	if w <= 0 || h <= 0 {
		err = fmt.Errorf("%w: window degenerate for %s", ErrNoOverlap, src.Ref)
		return
	}
	if grid, err = l.readWindow(src, xOff, yOff, w, h, bands...); err != nil {
		return
	}

	mask, err := l.rasterizeMask(inter, rasterRef, grid.Transform, w, h, allTouched)
	if err != nil {
		return nil, err
	}
	for _, band := range grid.Bands {
		for j := range band {
			if mask[j] == 0 {
				band[j] = math.NaN()
			}
		}
	}
	log.Debug(l.logTag+"clipped to AOI",
		zap.String("ref", src.Ref), zap.Int("xOff", xOff), zap.Int("yOff", yOff),
		zap.Int("width", w), zap.Int("height", h))
	return
}

// 地理范围转像素窗口，越界部分收缩到影像范围内
func windowFromBounds(gt [6]float64, width, height int, bounds [4]float64) (xOff, yOff, w, h int) {
	px0, py0, ok0 := invertGeoTransform(gt, bounds[0], bounds[3])
	px1, py1, ok1 := invertGeoTransform(gt, bounds[2], bounds[1])
	if !ok0 || !ok1 {
		return
	}
	minX := int(math.Floor(math.Min(px0, px1)))
	minY := int(math.Floor(math.Min(py0, py1)))
	maxX := int(math.Ceil(math.Max(px0, px1)))
	maxY := int(math.Ceil(math.Max(py0, py1)))
	if minX < 0 {
		minX = 0
	}
	if minY < 0 {
		minY = 0
	}
	if maxX > width {
		maxX = width
	}
	if maxY > height {
		maxY = height
	}
	xOff, yOff = minX, minY
	w, h = maxX-minX, maxY-minY
	return
}

// 在内存数据集上栅格化几何，返回窗口内的0/1掩膜
func (l *Loader) rasterizeMask(geom *Geometry, ref *SpatialRef, gt [6]float64, w, h int, allTouched bool) (mask []byte, err error) {
	ds, err := gdal.Create(gdal.Memory, "", 1, gdal.Byte, w, h)
	if err != nil {
		log.Error(l.logTag+"create mask dataset failed", zap.Error(err))
		return
	}
	defer ds.Close()
	if err = ds.SetGeoTransform(gt); err != nil {
		return
	}
	if err = ds.SetSpatialRef(ref); err != nil {
		return
	}
	opts := []gdal.RasterizeGeometryOption{gdal.Values(1)}
	if allTouched {
		opts = append(opts, gdal.AllTouched())
	}
	if err = ds.RasterizeGeometry(geom, opts...); err != nil {
		log.Error(l.logTag+"rasterize AOI mask failed", zap.Error(err))
		return
	}
	mask = make([]byte, w*h)
	err = ds.Bands()[0].IO(gdal.IORead, 0, 0, mask, w, h)
	return
}
