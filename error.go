package rasterproc

import "errors"

var (
	// 输入契约错误，不可重试
	ErrInvalidAOI        = errors.New("invalid AOI geometry")
	ErrUnknownIndex      = errors.New("unknown vegetation index")
	ErrMissingBand       = errors.New("missing required band")
	ErrLengthMismatch    = errors.New("rasters and timestamps length mismatch")
	ErrEmptyInput        = errors.New("empty input")
	ErrUnsupportedSensor = errors.New("unsupported sensor kind")
	ErrCompositeMode     = errors.New("unsupported composite mode")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrShapeMismatch     = errors.New("raster shapes mismatch")
	ErrWrongBandIndex    = errors.New("band index out of range")
	ErrInvalidExpression = errors.New("invalid band expression")
	ErrGridMeta          = errors.New("raster grid missing spatial reference")

	// 远程访问错误
	ErrSourceNotFound  = errors.New("raster source not found")
	ErrAccessDenied    = errors.New("raster source access denied")
	ErrReadTimeout     = errors.New("raster source read timeout")
	ErrReadFailed      = errors.New("raster read failed")
	ErrAllImagesFailed = errors.New("no images could be read")

	// 几何错误
	ErrNoOverlap = errors.New("AOI does not overlap raster")

	// 编码错误
	ErrNotTiled     = errors.New("output raster is not tiled")
	ErrEncodeFailed = errors.New("raster encode failed")
)

var inputErrors = []error{
	ErrInvalidAOI, ErrUnknownIndex, ErrMissingBand, ErrLengthMismatch,
	ErrEmptyInput, ErrUnsupportedSensor, ErrCompositeMode, ErrInvalidTimestamp,
	ErrShapeMismatch, ErrWrongBandIndex, ErrInvalidExpression, ErrGridMeta,
}

var remoteErrors = []error{
	ErrSourceNotFound, ErrAccessDenied, ErrReadTimeout, ErrReadFailed, ErrAllImagesFailed,
}

func isAnyOf(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func IsInputError(err error) bool {
	return isAnyOf(err, inputErrors)
}

func IsRemoteError(err error) bool {
	return isAnyOf(err, remoteErrors)
}

func IsGeometryError(err error) bool {
	return errors.Is(err, ErrNoOverlap)
}

func IsEncodingError(err error) bool {
	return errors.Is(err, ErrNotTiled) || errors.Is(err, ErrEncodeFailed)
}
