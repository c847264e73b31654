package rasterproc

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	gdal "github.com/airbusgeo/godal"
	"go.uber.org/zap"

	"github.com/geoflux/rasterproc/log"
	"github.com/geoflux/rasterproc/utils"
)

type EncodeOptions struct {
	Compression    string // 缺省DEFLATE
	TileSize       int    // 缺省512
	OverviewLevels []int  // 缺省按尺寸自动推算
	NoData         *float64
	WorkDir        string // 中间文件目录，缺省与dst同目录
}

// 编码结果描述
type RasterFile struct {
	Path          string
	SizeMB        float64
	Tiled         bool
	BlockSize     int
	Compression   string
	OverviewCount int
}

func (o *EncodeOptions) fill() {
	if o.Compression == "" {
		o.Compression = DEFAULT_COMPRESSION
	}
	if o.TileSize <= 0 {
		o.TileSize = DEFAULT_TILE_SIZE
	}
}

// 内存栅格编码为云优化GeoTIFF（Float32）：先写分块临时文件并构建
// 金字塔，再整体转写使金字塔置于数据之前，最后校验分块布局。
// NaN像元写出时替换为nodata哨兵（哨兵为NaN时保留）。
func (g *Toolbox) WriteCOG(grid *RasterGrid, dst string, opts EncodeOptions) (out *RasterFile, err error) {
	if err = grid.checkGeoref(); err != nil {
		return
	}
	opts.fill()
	nodata := grid.NoData
	if opts.NoData != nil {
		nodata = *opts.NoData
	}

	tmp := dst + TMP_SUFFIX
	if opts.WorkDir != "" {
		tmp = filepath.Join(opts.WorkDir, filepath.Base(dst)+TMP_SUFFIX)
	}
	defer os.Remove(tmp)

	creation := []string{
		"TILED=YES",
		fmt.Sprintf("BLOCKXSIZE=%d", opts.TileSize),
		fmt.Sprintf("BLOCKYSIZE=%d", opts.TileSize),
		"COMPRESS=" + opts.Compression,
		"BIGTIFF=IF_SAFER",
	}
	ds, err := gdal.Create(gdal.GTiff, tmp, len(grid.Bands), gdal.Float32, grid.Width, grid.Height,
		gdal.CreationOption(creation...))
	if err != nil {
		log.Error(g.logTag+"create tmp gtiff failed", zap.String("dst", dst), zap.Error(err))
		err = fmt.Errorf("%w: %v", ErrEncodeFailed, err)
		return
	}
	if err = g.fillCOG(ds, grid, nodata, opts); err != nil {
		ds.Close()
		return
	}
	if err = ds.Close(); err != nil {
		err = fmt.Errorf("%w: %v", ErrEncodeFailed, err)
		return
	}

	src, err := gdal.Open(tmp, gdal.RasterOnly())
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrEncodeFailed, err)
		return
	}
	final, err := src.Translate(dst, []string{
		"-of", "GTiff",
		"-co", "TILED=YES",
		"-co", fmt.Sprintf("BLOCKXSIZE=%d", opts.TileSize),
		"-co", fmt.Sprintf("BLOCKYSIZE=%d", opts.TileSize),
		"-co", "COMPRESS=" + opts.Compression,
		"-co", "COPY_SRC_OVERVIEWS=YES",
		"-co", "BIGTIFF=IF_SAFER",
	})
	src.Close()
	if err != nil {
		log.Error(g.logTag+"translate to COG failed", zap.String("dst", dst), zap.Error(err))
		err = fmt.Errorf("%w: %v", ErrEncodeFailed, err)
		return
	}
	final.Close()

	if out, err = g.ValidateRasterFile(dst, opts.TileSize); err != nil {
		os.Remove(dst)
		return nil, err
	}
	log.Info(g.logTag+"COG written",
		zap.String("dst", dst), zap.Float64("sizeMB", out.SizeMB),
		zap.Int("overviews", out.OverviewCount))
	return
}

func (g *Toolbox) fillCOG(ds *Dataset, grid *RasterGrid, nodata float64, opts EncodeOptions) (err error) {
	if err = ds.SetGeoTransform(grid.Transform); err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	ref, err := g.parseWKT(grid.SRS)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	defer ref.Close()
	if err = ds.SetSpatialRef(ref); err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if err = ds.SetNoData(nodata); err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}

	buf := make([]float32, grid.Width*grid.Height)
	for bi, band := range ds.Bands() {
		src := grid.Bands[bi]
		for j, v := range src {
			if math.IsNaN(v) && !math.IsNaN(nodata) {
				v = nodata
			}
			buf[j] = float32(v)
		}
		if err = band.IO(gdal.IOWrite, 0, 0, buf, grid.Width, grid.Height); err != nil {
			return fmt.Errorf("%w: write band %d: %v", ErrEncodeFailed, bi+1, err)
		}
	}

	levels := opts.OverviewLevels
	if len(levels) == 0 {
		levels = autoOverviewLevels(grid.Width, grid.Height, opts.TileSize)
	}
	if len(levels) > 0 {
		if err = ds.BuildOverviews(gdal.Levels(levels...), gdal.Resampling(gdal.Average)); err != nil {
			return fmt.Errorf("%w: build overviews: %v", ErrEncodeFailed, err)
		}
	}
	return
}

// 金字塔层级：从2倍起逐级翻倍，直到缩略后最大边不超过瓦片尺寸
func autoOverviewLevels(width, height, tileSize int) (levels []int) {
	maxDim := width
	if height > maxDim {
		maxDim = height
	}
	for level := 2; maxDim/level > tileSize; level *= 2 {
		levels = append(levels, level)
	}
	if maxDim > tileSize && len(levels) == 0 {
		levels = []int{2}
	}
	return
}

// 校验产物为分块布局并收集编码元信息
func (g *Toolbox) ValidateRasterFile(path string, tileSize int) (out *RasterFile, err error) {
	ds, err := gdal.Open(path, gdal.RasterOnly())
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrEncodeFailed, err)
		return
	}
	defer ds.Close()
	bands := ds.Bands()
	if len(bands) == 0 {
		err = fmt.Errorf("%w: %s has no band", ErrEncodeFailed, path)
		return
	}
	st := bands[0].Structure()
	tiled := st.BlockSizeX == st.BlockSizeY && st.BlockSizeX%16 == 0
	if !tiled || st.BlockSizeX != tileSize {
		err = fmt.Errorf("%w: %s block %dx%d", ErrNotTiled, path, st.BlockSizeX, st.BlockSizeY)
		return
	}
	size, err := utils.FileSizeMB(path)
	if err != nil {
		return
	}
	out = &RasterFile{
		Path:          path,
		SizeMB:        size,
		Tiled:         true,
		BlockSize:     st.BlockSizeX,
		Compression:   ds.Metadata("COMPRESSION", gdal.Domain("IMAGE_STRUCTURE")),
		OverviewCount: len(bands[0].Overviews()),
	}
	return
}
