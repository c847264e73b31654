package rasterproc

import (
	"fmt"
	"math"
)

type decodeKind int

const (
	decodeClassification decodeKind = iota
	decodeBitmask
)

// 质量波段解码规则：分类码表或位掩膜
type sensorDecode struct {
	kind     decodeKind
	occluded map[uint16]bool
	bits     []uint
}

var sensorDecodeTable = map[SensorKind]sensorDecode{
	// Sentinel-2 SCL分类码：0无数据 1饱和 3云影 8/9/10云 11雪
	SensorSentinel2: {
		kind:     decodeClassification,
		occluded: map[uint16]bool{0: true, 1: true, 3: true, 8: true, 9: true, 10: true, 11: true},
	},
	// Landsat-8 QA_PIXEL位：1膨胀云 3云 4云影
	SensorLandsat8: {
		kind: decodeBitmask,
		bits: []uint{1, 3, 4},
	},
}

func (d sensorDecode) isOccluded(code float64) bool {
	if math.IsNaN(code) {
		return true
	}
	v := uint16(code)
	switch d.kind {
	case decodeClassification:
		return d.occluded[v]
	default:
		for _, b := range d.bits {
			if v&(1<<b) != 0 {
				return true
			}
		}
		return false
	}
}

// 按传感器质量波段将受云、云影等遮蔽的像元置为NaN，返回新栅格；
// grid与qa须同尺寸，qa取其首波段
func ApplyCloudMask(grid, qa *RasterGrid, sensor SensorKind) (masked *RasterGrid, err error) {
	decode, ok := sensorDecodeTable[sensor]
	if !ok {
		err = fmt.Errorf("%w: %q", ErrUnsupportedSensor, sensor)
		return
	}
	if !sameShape(grid, qa) {
		err = fmt.Errorf("%w: data %dx%d vs qa %dx%d",
			ErrShapeMismatch, grid.Width, grid.Height, qa.Width, qa.Height)
		return
	}
	qaBand, err := qa.Band(0)
	if err != nil {
		return
	}
	masked = grid.Copy()
	for j, code := range qaBand {
		if decode.isOccluded(code) {
			for _, band := range masked.Bands {
				band[j] = math.NaN()
			}
		}
	}
	return
}
