package rasterproc

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	gdal "github.com/airbusgeo/godal"
	"go.uber.org/zap"

	"github.com/geoflux/rasterproc/log"
)

// 已打开的栅格数据源及其元信息
type Source struct {
	Ref       string
	Path      string
	SRS       string // WKT
	Transform [6]float64
	Width     int
	Height    int
	BandCount int
	NoData    *float64

	ds *Dataset
}

func (s *Source) Close() {
	if s.ds != nil {
		s.ds.Close()
		s.ds = nil
	}
}

// 栅格加载器，负责远程路径解析、打开与读取
type Loader struct {
	g      *Toolbox
	cfg    Config
	logTag string
}

func NewLoader(g *Toolbox) *Loader {
	return &Loader{
		g:      g,
		cfg:    g.cfg,
		logTag: "rasterproc.Loader: ",
	}
}

// 远程引用转GDAL VSI路径；本地路径原样返回
func ResolveVSIPath(ref string) string {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		return "/vsis3/" + strings.TrimPrefix(ref, "s3://")
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return "/vsicurl/" + ref
	default:
		return ref
	}
}

// 按GDAL报错文本归类远程读取错误
func classifyOpenError(ref string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "404") || strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "No such file"):
		return fmt.Errorf("%w: %s", ErrSourceNotFound, ref)
	case strings.Contains(msg, "403"):
		return fmt.Errorf("%w: %s", ErrAccessDenied, ref)
	case strings.Contains(strings.ToLower(msg), "timeout"):
		return fmt.Errorf("%w: %s", ErrReadTimeout, ref)
	default:
		return fmt.Errorf("%w: %s: %v", ErrReadFailed, ref, err)
	}
}

// 打开数据源并读取元信息，调用方负责Close
func (l *Loader) Open(ref string) (src *Source, err error) {
	path := ResolveVSIPath(ref)
	ds, err := gdal.Open(path, gdal.RasterOnly(), gdal.ConfigOption(l.cfg.gdalOptions()...))
	if err != nil {
		log.Error(l.logTag+"open raster failed", zap.String("ref", ref), zap.Error(err))
		err = classifyOpenError(ref, err)
		return
	}
	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		ds.Close()
		err = fmt.Errorf("%w: %s: no geotransform", ErrReadFailed, ref)
		return
	}
	var wkt string
	if sr := ds.SpatialRef(); sr != nil {
		if wkt, err = sr.WKT(); err != nil {
			ds.Close()
			err = fmt.Errorf("%w: %s: %v", ErrReadFailed, ref, err)
			return
		}
	}
	src = &Source{
		Ref:       ref,
		Path:      path,
		SRS:       wkt,
		Transform: gt,
		Width:     st.SizeX,
		Height:    st.SizeY,
		BandCount: st.NBands,
		ds:        ds,
	}
	if st.NBands > 0 {
		if nd, ok := ds.Bands()[0].NoData(); ok {
			src.NoData = &nd
		}
	}
	log.Debug(l.logTag+"raster opened",
		zap.String("ref", ref), zap.Int("width", st.SizeX), zap.Int("height", st.SizeY),
		zap.Int("bands", st.NBands))
	return
}

// 整幅读取为内存栅格；bands为1起始的波段号，缺省读取全部波段。
// 源nodata统一替换为NaN。
func (l *Loader) Load(ref string, bands ...int) (grid *RasterGrid, err error) {
	src, err := l.Open(ref)
	if err != nil {
		return
	}
	defer src.Close()
	return l.readWindow(src, 0, 0, src.Width, src.Height, bands...)
}

func (l *Loader) readWindow(src *Source, xOff, yOff, w, h int, bands ...int) (grid *RasterGrid, err error) {
	if len(bands) == 0 {
		bands = make([]int, src.BandCount)
		for i := range bands {
			bands[i] = i + 1
		}
	}
	allBands := src.ds.Bands()
	grid = NewRasterGrid(len(bands), w, h)
	grid.SRS = src.SRS
	grid.Transform = windowGeoTransform(src.Transform, xOff, yOff)
	for i, bn := range bands {
		if bn < 1 || bn > src.BandCount {
			return nil, fmt.Errorf("%w: band %d of %s", ErrWrongBandIndex, bn, src.Ref)
		}
		band := allBands[bn-1]
		buf := grid.Bands[i]
		if err = band.IO(gdal.IORead, xOff, yOff, buf, w, h); err != nil {
			log.Error(l.logTag+"read band failed",
				zap.String("ref", src.Ref), zap.Int("band", bn), zap.Error(err))
			return nil, fmt.Errorf("%w: %s band %d: %v", ErrReadFailed, src.Ref, bn, err)
		}
		nd, hasND := band.NoData()
		if !hasND && src.NoData != nil {
			nd, hasND = *src.NoData, true
		}
		if hasND && !math.IsNaN(nd) {
			for j, v := range buf {
				if v == nd {
					buf[j] = math.NaN()
				}
			}
		}
	}
	return
}

// 并发加载多个数据源，顺序与refs一致；并发度受配置约束
func (l *Loader) FetchMany(ctx context.Context, refs []string) (grids []*RasterGrid, err error) {
	if len(refs) == 0 {
		err = ErrEmptyInput
		return
	}
	conc := l.cfg.FetchConcurrency
	if conc < 1 {
		conc = 1
	}
	grids = make([]*RasterGrid, len(refs))
	sem := make(chan struct{}, conc)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for i, ref := range refs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			defer func() { <-sem }()
			grid, e := l.Load(ref)
			mu.Lock()
			defer mu.Unlock()
			if e != nil {
				if firstErr == nil {
					firstErr = e
				}
				return
			}
			grids[i] = grid
		}(i, ref)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return
}
