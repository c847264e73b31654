package rasterproc

import (
	"fmt"
	"math"
	"strings"

	goeval "github.com/edisonguo/govaluate"
)

const (
	BAND_RED   = "red"
	BAND_GREEN = "green"
	BAND_BLUE  = "blue"
	BAND_NIR   = "nir"

	SAVI_DEFAULT_L = 0.5
)

// 各指数所需波段，按指数公式的参数顺序排列
var indexBands = map[string][]string{
	"NDVI": {BAND_NIR, BAND_RED},
	"SAVI": {BAND_NIR, BAND_RED},
	"EVI":  {BAND_NIR, BAND_RED, BAND_BLUE},
	"VGI":  {BAND_GREEN, BAND_RED},
}

func SupportedIndices() []string {
	return []string{"NDVI", "SAVI", "EVI", "VGI"}
}

// 分母为零的像元取0，NaN参与运算自然传播，结果不截断取值范围

func NDVI(nir, red []float64) []float64 {
	out := make([]float64, len(nir))
	for i := range out {
		out[i] = safeRatio(nir[i]-red[i], nir[i]+red[i])
	}
	return out
}

func SAVI(nir, red []float64, l float64) []float64 {
	out := make([]float64, len(nir))
	for i := range out {
		out[i] = safeRatio((nir[i]-red[i])*(1+l), nir[i]+red[i]+l)
	}
	return out
}

func EVI(nir, red, blue []float64) []float64 {
	out := make([]float64, len(nir))
	for i := range out {
		out[i] = safeRatio(2.5*(nir[i]-red[i]), nir[i]+6*red[i]-7.5*blue[i]+1)
	}
	return out
}

func VGI(green, red []float64) []float64 {
	out := make([]float64, len(green))
	for i := range out {
		out[i] = safeRatio(green[i], red[i])
	}
	return out
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// 计算指定植被指数，bands键为波段名（red/green/blue/nir），
// 所有波段须与首个波段同尺寸；产物为单波段栅格，Tag为指数名
func ComputeIndex(name string, bands map[string]*RasterGrid) (grid *RasterGrid, err error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	need, ok := indexBands[name]
	if !ok {
		err = fmt.Errorf("%w: %q", ErrUnknownIndex, name)
		return
	}
	input := make([][]float64, len(need))
	var base *RasterGrid
	for i, bn := range need {
		b, found := bands[bn]
		if !found || b == nil {
			err = fmt.Errorf("%w: %s requires %q", ErrMissingBand, name, bn)
			return
		}
		if base == nil {
			base = b
		} else if !sameShape(base, b) {
			err = fmt.Errorf("%w: band %q is %dx%d, want %dx%d",
				ErrShapeMismatch, bn, b.Width, b.Height, base.Width, base.Height)
			return
		}
		input[i], err = b.Band(0)
		if err != nil {
			return
		}
	}
	var data []float64
	switch name {
	case "NDVI":
		data = NDVI(input[0], input[1])
	case "SAVI":
		data = SAVI(input[0], input[1], SAVI_DEFAULT_L)
	case "EVI":
		data = EVI(input[0], input[1], input[2])
	case "VGI":
		data = VGI(input[0], input[1])
	}
	grid = &RasterGrid{
		Bands:     [][]float64{data},
		Width:     base.Width,
		Height:    base.Height,
		SRS:       base.SRS,
		Transform: base.Transform,
		NoData:    math.NaN(),
		Tag:       name,
	}
	return
}

// 按自定义波段表达式逐像元求值，变量名须在bands中有对应波段；
// 求值结果非有限时取0
func ComputeExpression(exprText string, bands map[string]*RasterGrid) (grid *RasterGrid, err error) {
	expr, err := goeval.NewEvaluableExpression(exprText)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidExpression, err)
		return
	}
	var varNames []string
	seen := map[string]bool{}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				err = fmt.Errorf("%w: variable token '%v' is not a string", ErrInvalidExpression, token.Value)
				return
			}
			if _, found := bands[varName]; !found {
				err = fmt.Errorf("%w: expression requires %q", ErrMissingBand, varName)
				return
			}
			if !seen[varName] {
				seen[varName] = true
				varNames = append(varNames, varName)
			}
		}
	}
	if len(varNames) == 0 {
		err = fmt.Errorf("%w: expression has no band variable", ErrInvalidExpression)
		return
	}
	input := make([][]float64, len(varNames))
	var base *RasterGrid
	for i, vn := range varNames {
		b := bands[vn]
		if base == nil {
			base = b
		} else if !sameShape(base, b) {
			err = fmt.Errorf("%w: band %q is %dx%d, want %dx%d",
				ErrShapeMismatch, vn, b.Width, b.Height, base.Width, base.Height)
			return
		}
		input[i], err = b.Band(0)
		if err != nil {
			return
		}
	}
	data := make([]float64, base.Width*base.Height)
	params := make(map[string]interface{}, len(varNames))
	for j := range data {
		for i, vn := range varNames {
			params[vn] = input[i][j]
		}
		result, e := expr.Evaluate(params)
		if e != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidExpression, e)
			return
		}
		v, ok := result.(float64)
		if !ok || math.IsInf(v, 0) {
			v = 0
		}
		data[j] = v
	}
	grid = &RasterGrid{
		Bands:     [][]float64{data},
		Width:     base.Width,
		Height:    base.Height,
		SRS:       base.SRS,
		Transform: base.Transform,
		NoData:    math.NaN(),
		Tag:       exprText,
	}
	return
}
