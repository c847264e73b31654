package rasterproc

import (
	"strconv"
	"strings"
)

// 点串转WKT多边形（首尾自动闭合）
func PointsToWkt(points [][2]float64) string {
	if len(points) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("POLYGON ((")
	writeRing(&sb, points)
	sb.WriteString("))")
	return sb.String()
}

// 矩形范围转WKT多边形
func SpanToWkt(minX, minY, maxX, maxY float64) string {
	return PointsToWkt([][2]float64{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY},
	})
}

// 多环多面坐标转WKT MULTIPOLYGON
func PolygonsToWkt(polygons [][][][2]float64) string {
	if len(polygons) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("MULTIPOLYGON (")
	for i, poly := range polygons {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for j, ring := range poly {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('(')
			writeRing(&sb, ring)
			sb.WriteByte(')')
		}
		sb.WriteByte(')')
	}
	sb.WriteByte(')')
	return sb.String()
}

func writeRing(sb *strings.Builder, points [][2]float64) {
	for i, p := range points {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(p[0], 'f', -1, 64))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(p[1], 'f', -1, 64))
	}
	first, last := points[0], points[len(points)-1]
	if first != last {
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(first[0], 'f', -1, 64))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(first[1], 'f', -1, 64))
	}
}

// 像素坐标转地理坐标
func applyGeoTransform(gt [6]float64, px, py float64) (x, y float64) {
	x = gt[0] + px*gt[1] + py*gt[2]
	y = gt[3] + px*gt[4] + py*gt[5]
	return
}

// 地理坐标转像素坐标（对仿射变换求逆）
func invertGeoTransform(gt [6]float64, x, y float64) (px, py float64, ok bool) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 {
		return
	}
	dx, dy := x-gt[0], y-gt[3]
	px = (dx*gt[5] - dy*gt[2]) / det
	py = (dy*gt[1] - dx*gt[4]) / det
	ok = true
	return
}

// 构造窗口对应的地理变换
func windowGeoTransform(gt [6]float64, xOff, yOff int) (out [6]float64) {
	out = gt
	out[0], out[3] = applyGeoTransform(gt, float64(xOff), float64(yOff))
	return
}
