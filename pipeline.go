package rasterproc

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/geoflux/rasterproc/log"
	"github.com/geoflux/rasterproc/utils"
)

// 任务流水线：加载→裁剪→（去云）→计算/合成→编码
type Pipeline struct {
	g      *Toolbox
	loader *Loader
	cfg    Config
	logTag string
}

func NewPipeline(cfg Config) *Pipeline {
	g := NewToolbox(cfg)
	return &Pipeline{
		g:      g,
		loader: NewLoader(g),
		cfg:    cfg,
		logTag: "rasterproc.Pipeline: ",
	}
}

func (p *Pipeline) Close() {
	p.g.Close()
}

// 进度跟踪器：上报值截断到[0,100]且只增不减
type progressTracker struct {
	fn   ProgressFunc
	last int
}

func newProgressTracker(fn ProgressFunc) *progressTracker {
	return &progressTracker{fn: fn, last: -1}
}

func (t *progressTracker) report(percent int) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	if percent <= t.last {
		return
	}
	t.last = percent
	if t.fn != nil {
		t.fn(percent)
	}
}

// 植被指数任务：按AOI裁剪各波段后逐指数计算并编码为COG。
// 产物nodata为-9999哨兵。
func (p *Pipeline) ProcessIndices(ctx context.Context, params *TaskParams, progress ProgressFunc) (result *TaskResult, err error) {
	tracker := newProgressTracker(progress)
	if err = validateIndicesParams(params); err != nil {
		return
	}
	aoi, err := ParseAOI(params.AOI)
	if err != nil {
		return
	}
	for _, name := range params.Indices {
		if _, ok := indexBands[strings.ToUpper(strings.TrimSpace(name))]; !ok {
			err = fmt.Errorf("%w: %q", ErrUnknownIndex, name)
			return
		}
	}
	tracker.report(10)

	if err = os.MkdirAll(params.OutputDir, os.ModePerm); err != nil {
		return
	}
	workDir, err := utils.GetUniqSubDir(p.cfg.TmpDir)
	if err != nil {
		return
	}
	defer os.RemoveAll(workDir)

	bands, err := p.fetchClippedBands(ctx, params.BandRefs, aoi)
	if err != nil {
		return
	}
	tracker.report(40)

	nodata := float64(INDEX_NODATA)
	opts := EncodeOptions{NoData: &nodata, WorkDir: workDir}
	var outputs []OutputFile
	n := len(params.Indices)
	for i, name := range params.Indices {
		var grid *RasterGrid
		if grid, err = ComputeIndex(name, bands); err != nil {
			return
		}
		var out OutputFile
		if out, err = p.encodeOutput(grid, params, grid.Tag,
			fmt.Sprintf("%s_%s%s", params.ImageID, strings.ToLower(grid.Tag), FILE_EXT_TIF), opts); err != nil {
			return
		}
		outputs = append(outputs, out)
		tracker.report(40 + 50*(i+1)/n)
	}
	tracker.report(100)

	result = &TaskResult{
		OutputFiles: outputs,
		Metadata: TaskMetadata{
			ImageID: params.ImageID,
			Indices: params.Indices,
		},
	}
	log.Info(p.logTag+"indices task done",
		zap.String("task", params.TaskID), zap.Strings("indices", params.Indices),
		zap.Int("outputs", len(outputs)))
	return
}

// 时间合成任务：逐影像裁剪与去云后按月合成并编码为COG。
// 单幅影像读取失败仅告警跳过，全部失败才报错。产物nodata为NaN。
func (p *Pipeline) ProcessComposite(ctx context.Context, params *TaskParams, progress ProgressFunc) (result *TaskResult, err error) {
	tracker := newProgressTracker(progress)
	timestamps, err := validateCompositeParams(params)
	if err != nil {
		return
	}
	aoi, err := ParseAOI(params.AOI)
	if err != nil {
		return
	}
	tracker.report(5)

	if err = os.MkdirAll(params.OutputDir, os.ModePerm); err != nil {
		return
	}
	workDir, err := utils.GetUniqSubDir(p.cfg.TmpDir)
	if err != nil {
		return
	}
	defer os.RemoveAll(workDir)

	total := len(params.ImageRefs)
	grids, keptTimes, err := p.loadCompositeImages(ctx, params, aoi, timestamps, tracker)
	if err != nil {
		return
	}
	if len(grids) == 0 {
		err = fmt.Errorf("%w: all %d inputs failed", ErrAllImagesFailed, total)
		return
	}

	periods, err := CompositeByPeriod(grids, keptTimes)
	if err != nil {
		return
	}
	tracker.report(50)
	tracker.report(70)

	nan := math.NaN()
	opts := EncodeOptions{NoData: &nan, WorkDir: workDir}
	var outputs []OutputFile
	labels := make([]string, 0, len(periods))
	for idx, period := range periods {
		labels = append(labels, period.Label)
		var out OutputFile
		if out, err = p.encodeOutput(period.Grid, params, period.Label,
			fmt.Sprintf("composite_%s%s", period.Label, FILE_EXT_TIF), opts); err != nil {
			return
		}
		outputs = append(outputs, out)
		tracker.report(70 + 25*(idx+1)/len(periods))
	}
	tracker.report(100)

	result = &TaskResult{
		OutputFiles: outputs,
		Metadata: TaskMetadata{
			CompositeMode:    params.CompositeMode,
			Sensor:           params.Sensor,
			TotalInputImages: total,
			SuccessfulImages: len(grids),
			Periods:          labels,
			CloudMaskApplied: params.ApplyCloudMask,
		},
	}
	log.Info(p.logTag+"composite task done",
		zap.String("task", params.TaskID), zap.Int("inputs", total),
		zap.Int("successful", len(grids)), zap.Strings("periods", labels))
	return
}

func validateIndicesParams(params *TaskParams) error {
	switch {
	case params.TaskID == "" || params.OutputDir == "":
		return fmt.Errorf("%w: task_id and output_dir required", ErrEmptyInput)
	case len(params.Indices) == 0:
		return fmt.Errorf("%w: no index requested", ErrEmptyInput)
	case len(params.BandRefs) == 0:
		return fmt.Errorf("%w: no band source", ErrEmptyInput)
	}
	return nil
}

func validateCompositeParams(params *TaskParams) (timestamps []time.Time, err error) {
	if params.TaskID == "" || params.OutputDir == "" {
		err = fmt.Errorf("%w: task_id and output_dir required", ErrEmptyInput)
		return
	}
	if params.CompositeMode != COMPOSITE_MODE_MONTHLY {
		err = fmt.Errorf("%w: %q", ErrCompositeMode, params.CompositeMode)
		return
	}
	if len(params.ImageRefs) == 0 {
		err = fmt.Errorf("%w: no image source", ErrEmptyInput)
		return
	}
	if len(params.ImageRefs) != len(params.Timestamps) {
		err = fmt.Errorf("%w: %d images vs %d timestamps",
			ErrLengthMismatch, len(params.ImageRefs), len(params.Timestamps))
		return
	}
	if params.ApplyCloudMask {
		if _, ok := sensorDecodeTable[params.Sensor]; !ok {
			err = fmt.Errorf("%w: %q", ErrUnsupportedSensor, params.Sensor)
			return
		}
		if len(params.QualityRefs) != len(params.ImageRefs) {
			err = fmt.Errorf("%w: %d images vs %d qa bands",
				ErrLengthMismatch, len(params.ImageRefs), len(params.QualityRefs))
			return
		}
	}
	timestamps = make([]time.Time, len(params.Timestamps))
	for i, ts := range params.Timestamps {
		if timestamps[i], err = parseTimestamp(ts); err != nil {
			return
		}
	}
	return
}

// ISO-8601时间戳，允许仅含日期
func parseTimestamp(ts string) (t time.Time, err error) {
	if t, err = time.Parse(time.RFC3339, ts); err == nil {
		return
	}
	if t, err = time.Parse("2006-01-02", ts); err != nil {
		err = fmt.Errorf("%w: %q", ErrInvalidTimestamp, ts)
	}
	return
}

// 并发拉取并裁剪各波段，键与bandRefs一致
func (p *Pipeline) fetchClippedBands(ctx context.Context, bandRefs map[string]string, aoi *AOIGeometry) (bands map[string]*RasterGrid, err error) {
	conc := p.cfg.FetchConcurrency
	if conc < 1 {
		conc = 1
	}
	bands = make(map[string]*RasterGrid, len(bandRefs))
	sem := make(chan struct{}, conc)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for name, ref := range bandRefs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(name, ref string) {
			defer wg.Done()
			defer func() { <-sem }()
			grid, e := p.clipRef(ref, aoi)
			mu.Lock()
			defer mu.Unlock()
			if e != nil {
				if firstErr == nil {
					firstErr = e
				}
				return
			}
			bands[name] = grid
		}(name, ref)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return
}

func (p *Pipeline) clipRef(ref string, aoi *AOIGeometry) (grid *RasterGrid, err error) {
	src, err := p.loader.Open(ref)
	if err != nil {
		return
	}
	defer src.Close()
	return p.loader.ClipToAOI(src, aoi, true, 1)
}

// 有界并发加载合成输入影像；单幅失败仅告警跳过，结果保持输入顺序
func (p *Pipeline) loadCompositeImages(ctx context.Context, params *TaskParams, aoi *AOIGeometry, timestamps []time.Time, tracker *progressTracker) (grids []*RasterGrid, kept []time.Time, err error) {
	conc := p.cfg.FetchConcurrency
	if conc < 1 {
		conc = 1
	}
	total := len(params.ImageRefs)
	loaded := make([]*RasterGrid, total)
	sem := make(chan struct{}, conc)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var done int
	for i, ref := range params.ImageRefs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, nil, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			defer func() { <-sem }()
			grid, e := p.loadCompositeImage(ref, params, aoi, i)
			mu.Lock()
			defer mu.Unlock()
			if e != nil {
				log.Warn(p.logTag+"skip unreadable image",
					zap.String("task", params.TaskID), zap.String("ref", ref), zap.Error(e))
			} else {
				loaded[i] = grid
			}
			done++
			tracker.report(5 + 40*done/total)
		}(i, ref)
	}
	wg.Wait()
	for i, g := range loaded {
		if g != nil {
			grids = append(grids, g)
			kept = append(kept, timestamps[i])
		}
	}
	return
}

func (p *Pipeline) loadCompositeImage(ref string, params *TaskParams, aoi *AOIGeometry, i int) (grid *RasterGrid, err error) {
	if grid, err = p.clipRef(ref, aoi); err != nil {
		return
	}
	if !params.ApplyCloudMask {
		return
	}
	qa, err := p.clipRef(params.QualityRefs[i], aoi)
	if err != nil {
		return nil, err
	}
	return ApplyCloudMask(grid, qa, params.Sensor)
}

// 编码产物并生成回传描述
func (p *Pipeline) encodeOutput(grid *RasterGrid, params *TaskParams, label, filename string, opts EncodeOptions) (out OutputFile, err error) {
	dst := filepath.Join(params.OutputDir, filename)
	file, err := p.g.WriteCOG(grid, dst, opts)
	if err != nil {
		return
	}
	out = OutputFile{
		Name:       utils.GetFilenameWithoutExt(filename),
		StorageKey: fmt.Sprintf(STORAGE_KEY_TEMPLATE, params.TaskID, filename),
		Path:       file.Path,
		SizeMB:     file.SizeMB,
		Label:      label,
	}
	return
}
