package rasterproc

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

const (
	UNIVERSAL_SRID = 4326

	DEFAULT_COMPRESSION = "DEFLATE"
	DEFAULT_TILE_SIZE   = 512

	// 指数产物的缺失值哨兵；合成产物使用NaN
	INDEX_NODATA = -9999

	FILE_EXT_TIF = ".tif"
	TMP_SUFFIX   = ".tmp"

	STORAGE_KEY_TEMPLATE = "results/%s/%s"

	COMPOSITE_MODE_MONTHLY = "monthly"
	PERIOD_LABEL_FORMAT    = "%04d-%02d"
)

// 远程读取与运行环境配置，进程内读取一次后传入NewToolbox
type Config struct {
	HTTPTimeoutSec    int    `yaml:"http_timeout_sec"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	MaxRetry          int    `yaml:"max_retry"`
	RetryDelaySec     int    `yaml:"retry_delay_sec"`
	CurlChunkSize     int    `yaml:"curl_chunk_size"`
	CacheMaxMB        int    `yaml:"cache_max_mb"`
	FetchConcurrency  int    `yaml:"fetch_concurrency"`
	TmpDir            string `yaml:"tmp_dir"`
}

func DefaultConfig() Config {
	return Config{
		HTTPTimeoutSec:    600,
		ConnectTimeoutSec: 60,
		MaxRetry:          5,
		RetryDelaySec:     10,
		CurlChunkSize:     10 << 20,
		CacheMaxMB:        512,
		FetchConcurrency:  4,
		TmpDir:            os.TempDir(),
	}
}

// 从YAML文件加载配置，缺省项取默认值，随后应用环境变量覆盖
func LoadConfig(path string) (cfg Config, err error) {
	cfg = DefaultConfig()
	if path != "" {
		var raw []byte
		if raw, err = os.ReadFile(path); err != nil {
			return
		}
		if err = yaml.Unmarshal(raw, &cfg); err != nil {
			return
		}
	}
	cfg.applyEnv()
	return
}

func (c *Config) applyEnv() {
	setIntFromEnv(&c.HTTPTimeoutSec, "RASTERPROC_HTTP_TIMEOUT")
	setIntFromEnv(&c.ConnectTimeoutSec, "RASTERPROC_CONNECT_TIMEOUT")
	setIntFromEnv(&c.MaxRetry, "RASTERPROC_MAX_RETRY")
	setIntFromEnv(&c.RetryDelaySec, "RASTERPROC_RETRY_DELAY")
	setIntFromEnv(&c.CurlChunkSize, "RASTERPROC_CURL_CHUNK_SIZE")
	setIntFromEnv(&c.CacheMaxMB, "RASTERPROC_CACHE_MAX_MB")
	setIntFromEnv(&c.FetchConcurrency, "RASTERPROC_FETCH_CONCURRENCY")
	if v := os.Getenv("RASTERPROC_TMP_DIR"); v != "" {
		c.TmpDir = v
	}
}

func setIntFromEnv(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, e := strconv.Atoi(v); e == nil {
			*dst = i
		}
	}
}

// 转为GDAL打开数据集时的配置项（云端范围读取、重试与缓存）
func (c Config) gdalOptions() []string {
	return []string{
		"GDAL_DISABLE_READDIR_ON_OPEN=EMPTY_DIR",
		"CPL_VSIL_CURL_ALLOWED_EXTENSIONS=.tif,.tiff,.jp2",
		fmt.Sprintf("GDAL_HTTP_TIMEOUT=%d", c.HTTPTimeoutSec),
		fmt.Sprintf("GDAL_HTTP_CONNECTTIMEOUT=%d", c.ConnectTimeoutSec),
		fmt.Sprintf("GDAL_HTTP_MAX_RETRY=%d", c.MaxRetry),
		fmt.Sprintf("GDAL_HTTP_RETRY_DELAY=%d", c.RetryDelaySec),
		fmt.Sprintf("CPL_VSIL_CURL_CHUNK_SIZE=%d", c.CurlChunkSize),
		fmt.Sprintf("GDAL_CACHEMAX=%d", c.CacheMaxMB),
	}
}
