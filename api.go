package rasterproc

import (
	"encoding/json"

	gdal "github.com/airbusgeo/godal"
)

type AnyJson = json.RawMessage

type Dataset = gdal.Dataset
type Geometry = gdal.Geometry
type SpatialRef = gdal.SpatialRef

// 卫星传感器类型，决定质量波段的解码方式
type SensorKind string

const (
	SensorSentinel2 SensorKind = "sentinel-2"
	SensorLandsat8  SensorKind = "landsat-8"
)

// 任务参数，由上层编排服务下发
type TaskParams struct {
	TaskID  string   `json:"task_id"`
	ImageID string   `json:"image_id"`
	AOI     AnyJson  `json:"aoi"`
	Indices []string `json:"indices"`
	// 指数计算任务：波段名到数据源的映射
	BandRefs map[string]string `json:"band_urls"`
	// 时间合成任务：影像源及与之一一对应的ISO-8601时间戳
	ImageRefs      []string   `json:"image_urls"`
	Timestamps     []string   `json:"image_timestamps"`
	QualityRefs    []string   `json:"qa_band_urls"`
	Sensor         SensorKind `json:"satellite"`
	ApplyCloudMask bool       `json:"apply_cloud_mask"`
	CompositeMode  string     `json:"composite_mode"`
	// 编码输出落盘目录（上传由上层负责）
	OutputDir string `json:"output_dir"`
}

// 单个产物描述，回传给编排服务
type OutputFile struct {
	Name        string  `json:"name"`
	StorageKey  string  `json:"storage_key"`
	Path        string  `json:"path"`
	DownloadURL string  `json:"download_url,omitempty"` // 由存储服务签发后填入
	SizeMB      float64 `json:"size_mb"`
	Label       string  `json:"label"`
}

type TaskMetadata struct {
	ImageID          string     `json:"image_id,omitempty"`
	Indices          []string   `json:"indices,omitempty"`
	CompositeMode    string     `json:"composite_mode,omitempty"`
	Sensor           SensorKind `json:"satellite,omitempty"`
	TotalInputImages int        `json:"total_input_images,omitempty"`
	SuccessfulImages int        `json:"successful_images,omitempty"`
	Periods          []string   `json:"periods,omitempty"`
	CloudMaskApplied bool       `json:"cloud_mask_applied"`
}

type TaskResult struct {
	OutputFiles []OutputFile `json:"output_files"`
	Metadata    TaskMetadata `json:"metadata"`
}

// 进度回调，取值0~100且单调递增
type ProgressFunc func(percent int)
