package rasterproc

import (
	"sync"

	gdal "github.com/airbusgeo/godal"
	"go.uber.org/zap"

	"github.com/geoflux/rasterproc/log"
)

var registerOnce sync.Once

// GDAL工具箱，持有配置与空间参照缓存，可跨goroutine复用
type Toolbox struct {
	refMap map[int]*SpatialRef
	rLock  sync.Mutex
	cfg    Config
	logTag string
}

func NewToolbox(cfg Config) *Toolbox {
	registerOnce.Do(gdal.RegisterAll)
	return &Toolbox{
		refMap: map[int]*SpatialRef{},
		cfg:    cfg,
		logTag: "rasterproc.Toolbox: ",
	}
}

func (g *Toolbox) Close() {
	g.rLock.Lock()
	defer g.rLock.Unlock()
	for srid, ref := range g.refMap {
		ref.Close()
		delete(g.refMap, srid)
	}
}

// 取EPSG对应的空间参照（带缓存）
func (g *Toolbox) getSridRef(srid int) (ref *SpatialRef, err error) {
	g.rLock.Lock()
	defer g.rLock.Unlock()
	if ref = g.refMap[srid]; ref != nil {
		return
	}
	if ref, err = gdal.NewSpatialRefFromEPSG(srid); err != nil {
		log.Error(g.logTag+"create spatial ref from EPSG failed", zap.Int("srid", srid), zap.Error(err))
		return
	}
	g.refMap[srid] = ref
	return
}

func (g *Toolbox) parseWKT(wkt string) (ref *SpatialRef, err error) {
	if ref, err = gdal.NewSpatialRefFromWKT(wkt); err != nil {
		log.Error(g.logTag+"parse SRS WKT failed", zap.Error(err))
	}
	return
}

// 几何坐标系转换；src与dst相同则原样返回
func (g *Toolbox) transformGeo(geo *Geometry, src, dst *SpatialRef) (err error) {
	if src.IsSame(dst) {
		return
	}
	trans, err := gdal.NewTransform(src, dst)
	if err != nil {
		log.Error(g.logTag+"create coordinate transform failed", zap.Error(err))
		return
	}
	defer trans.Close()
	if err = geo.Transform(trans); err != nil {
		log.Error(g.logTag+"transform geometry failed", zap.Error(err))
	}
	return
}

func (g *Toolbox) geoFromWkt(wkt string, ref *SpatialRef) (geo *Geometry, err error) {
	if geo, err = gdal.NewGeometryFromWKT(wkt, ref); err != nil {
		log.Error(g.logTag+"parse geometry WKT failed", zap.Error(err))
	}
	return
}
