package rasterproc

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// 单个合成期产物
type CompositePeriod struct {
	Label   string // "YYYY-MM"
	Members int
	Grid    *RasterGrid
}

// 按月分期合成：同期影像逐像元求NaN感知均值，
// 某像元全部成员均为NaN时结果保持NaN。
// grids与timestamps一一对应且须同尺寸，输出按期标签升序。
func CompositeByPeriod(grids []*RasterGrid, timestamps []time.Time) (periods []CompositePeriod, err error) {
	if len(grids) == 0 {
		err = ErrEmptyInput
		return
	}
	if len(grids) != len(timestamps) {
		err = fmt.Errorf("%w: %d rasters vs %d timestamps", ErrLengthMismatch, len(grids), len(timestamps))
		return
	}
	base := grids[0]
	for i, g := range grids {
		if !sameShape(base, g) {
			err = fmt.Errorf("%w: raster %d is %dx%d, want %dx%d",
				ErrShapeMismatch, i, g.Width, g.Height, base.Width, base.Height)
			return
		}
	}

	groups := map[string][]*RasterGrid{}
	for i, ts := range timestamps {
		label := fmt.Sprintf(PERIOD_LABEL_FORMAT, ts.Year(), int(ts.Month()))
		groups[label] = append(groups[label], grids[i])
	}
	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		members := groups[label]
		var grid *RasterGrid
		if len(members) == 1 {
			grid = members[0].Copy()
		} else {
			grid = meanComposite(members)
		}
		grid.Tag = label
		periods = append(periods, CompositePeriod{
			Label:   label,
			Members: len(members),
			Grid:    grid,
		})
	}
	return
}

// 逐像元NaN感知均值，元信息取自首个成员
func meanComposite(members []*RasterGrid) *RasterGrid {
	first := members[0]
	out := NewRasterGrid(len(first.Bands), first.Width, first.Height)
	out.SRS = first.SRS
	out.Transform = first.Transform
	for bi := range out.Bands {
		dst := out.Bands[bi]
		for j := range dst {
			var sum float64
			var n int
			for _, m := range members {
				v := m.Bands[bi][j]
				if !math.IsNaN(v) {
					sum += v
					n++
				}
			}
			if n == 0 {
				dst[j] = math.NaN()
			} else {
				dst[j] = sum / float64(n)
			}
		}
	}
	return out
}
