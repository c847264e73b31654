package rasterproc

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	gdal "github.com/airbusgeo/godal"
	geo "github.com/nci/geometry"
	"go.uber.org/zap"

	"github.com/geoflux/rasterproc/log"
	"github.com/geoflux/rasterproc/utils"
)

// 感兴趣区，坐标系固定为EPSG:4326，按多面体（面→环→点）存储
type AOIGeometry struct {
	Name     string
	Polygons [][][][2]float64
}

type rawGeom struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// 解析GeoJSON感兴趣区，接受Feature、FeatureCollection或裸几何，
// 几何类型仅限Polygon与MultiPolygon
func ParseAOI(doc AnyJson) (aoi *AOIGeometry, err error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err = json.Unmarshal(doc, &probe); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidAOI, err)
		return
	}
	var geomJSON AnyJson
	switch probe.Type {
	case "FeatureCollection":
		var fc geo.FeatureCollection
		if err = json.Unmarshal(doc, &fc); err != nil || len(fc.Features) == 0 {
			err = fmt.Errorf("%w: empty or malformed feature collection", ErrInvalidAOI)
			return
		}
		if geomJSON, err = featureGeomJSON(&fc.Features[0]); err != nil {
			return
		}
	case "Feature":
		var feat geo.Feature
		if err = json.Unmarshal(doc, &feat); err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidAOI, err)
			return
		}
		if geomJSON, err = featureGeomJSON(&feat); err != nil {
			return
		}
	case "Polygon", "MultiPolygon":
		geomJSON = doc
	default:
		err = fmt.Errorf("%w: geometry type %q not supported", ErrInvalidAOI, probe.Type)
		return
	}
	polygons, err := decodePolygons(geomJSON)
	if err != nil {
		return
	}
	aoi = &AOIGeometry{Polygons: polygons}
	err = aoi.Validate()
	return
}

func featureGeomJSON(feat *geo.Feature) (doc AnyJson, err error) {
	switch g := feat.Geometry.(type) {
	case *geo.Polygon, *geo.MultiPolygon:
		if doc, err = json.Marshal(g); err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidAOI, err)
		}
	default:
		err = fmt.Errorf("%w: feature geometry must be Polygon or MultiPolygon", ErrInvalidAOI)
	}
	return
}

func decodePolygons(doc AnyJson) (polygons [][][][2]float64, err error) {
	var rg rawGeom
	if err = json.Unmarshal(doc, &rg); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidAOI, err)
		return
	}
	switch rg.Type {
	case "Polygon":
		var rings [][][2]float64
		if err = json.Unmarshal(rg.Coordinates, &rings); err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidAOI, err)
			return
		}
		polygons = [][][][2]float64{rings}
	case "MultiPolygon":
		if err = json.Unmarshal(rg.Coordinates, &polygons); err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidAOI, err)
		}
	default:
		err = fmt.Errorf("%w: geometry type %q not supported", ErrInvalidAOI, rg.Type)
	}
	return
}

// 校验环闭合、顶点数与经纬度取值范围
func (a *AOIGeometry) Validate() (err error) {
	if len(a.Polygons) == 0 {
		return fmt.Errorf("%w: no polygons", ErrInvalidAOI)
	}
	for _, poly := range a.Polygons {
		if len(poly) == 0 {
			return fmt.Errorf("%w: polygon without rings", ErrInvalidAOI)
		}
		for _, ring := range poly {
			if len(ring) < 4 {
				return fmt.Errorf("%w: ring has fewer than 4 points", ErrInvalidAOI)
			}
			if ring[0] != ring[len(ring)-1] {
				return fmt.Errorf("%w: ring is not closed", ErrInvalidAOI)
			}
			for _, p := range ring {
				if math.IsNaN(p[0]) || math.IsNaN(p[1]) ||
					p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
					return fmt.Errorf("%w: coordinate (%g, %g) out of range", ErrInvalidAOI, p[0], p[1])
				}
			}
		}
	}
	return
}

func (a *AOIGeometry) WKT() string {
	return PolygonsToWkt(a.Polygons)
}

// 外包框 (minLon, minLat, maxLon, maxLat)
func (a *AOIGeometry) BBox() (bbox [4]float64) {
	bbox = [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, poly := range a.Polygons {
		for _, ring := range poly {
			for _, p := range ring {
				bbox[0] = math.Min(bbox[0], p[0])
				bbox[1] = math.Min(bbox[1], p[1])
				bbox[2] = math.Max(bbox[2], p[0])
				bbox[3] = math.Max(bbox[3], p[1])
			}
		}
	}
	return
}

// 从zip压缩的shapefile解析感兴趣区，坐标统一转到EPSG:4326
func (g *Toolbox) ParseAOIFromShapefileZip(zipFile string) (aoi *AOIGeometry, err error) {
	workDir, err := utils.GetUniqSubDir(g.cfg.TmpDir)
	if err != nil {
		return
	}
	shpPath, _, err := utils.GetShpInZip(zipFile, workDir)
	if err != nil {
		log.Error(g.logTag+"extract shp from zip failed", zap.String("zip", zipFile), zap.Error(err))
		return
	}
	ds, err := gdal.Open(shpPath, gdal.VectorOnly())
	if err != nil {
		log.Error(g.logTag+"open shapefile failed", zap.String("shp", shpPath), zap.Error(err))
		return
	}
	defer ds.Close()
	layers := ds.Layers()
	if len(layers) == 0 {
		err = fmt.Errorf("%w: shapefile has no layer", ErrInvalidAOI)
		return
	}
	layer := layers[0]
	wgs84, err := g.getSridRef(UNIVERSAL_SRID)
	if err != nil {
		return
	}
	var merged [][][][2]float64
	layer.ResetReading()
	for {
		feat := layer.NextFeature()
		if feat == nil {
			break
		}
		geom := feat.Geometry()
		if geom == nil {
			feat.Close()
			continue
		}
		if srcRef := geom.SpatialRef(); srcRef != nil && !srcRef.IsSame(wgs84) {
			if err = g.transformGeo(geom, srcRef, wgs84); err != nil {
				feat.Close()
				return
			}
		}
		gj, e := geom.GeoJSON()
		feat.Close()
		if e != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidAOI, e)
			return
		}
		polys, e := decodePolygons(AnyJson(gj))
		if e != nil {
			err = e
			return
		}
		merged = append(merged, polys...)
	}
	if len(merged) == 0 {
		err = fmt.Errorf("%w: shapefile has no polygon feature", ErrInvalidAOI)
		return
	}
	name := utils.GetFilenameWithoutExt(shpPath)
	name = strings.TrimSpace(utils.PurifyForUtf8(filepath.Base(name)))
	aoi = &AOIGeometry{Name: name, Polygons: merged}
	err = aoi.Validate()
	return
}
