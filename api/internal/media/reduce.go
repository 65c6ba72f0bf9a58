package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultCeilingBytes   = 1 << 20
	DefaultMinWidth       = 400
	DefaultMinHeight      = 300
	DefaultLargeThreshold = 5 << 20
	DefaultLargeShrink    = 0.7
	DefaultMaxWidth       = 8192
	DefaultMaxHeight      = 8192
	DefaultMaxPixels      = 25_000_000

	// quality in percent: 60 -> 30 in steps of 10, at most 4 encodes
	startQuality = 60
	qualityFloor = 30
	qualityStep  = 10

	outputMIME = "image/jpeg"
)

// Limits bound the reducer: the byte ceiling and the resolution floor.
type Limits struct {
	CeilingBytes int
	MinWidth     int
	MinHeight    int

	// Originals above LargeThreshold get an extra LargeShrink factor on the
	// linear scale, since they compress worse than the area model predicts.
	LargeThreshold int
	LargeShrink    float64

	// Declared dimensions above these are rejected before any pixel is
	// decoded. Zero means the package default.
	MaxWidth  int
	MaxHeight int
	MaxPixels int
}

func DefaultLimits() Limits {
	return Limits{
		CeilingBytes:   DefaultCeilingBytes,
		MinWidth:       DefaultMinWidth,
		MinHeight:      DefaultMinHeight,
		LargeThreshold: DefaultLargeThreshold,
		LargeShrink:    DefaultLargeShrink,
		MaxWidth:       DefaultMaxWidth,
		MaxHeight:      DefaultMaxHeight,
		MaxPixels:      DefaultMaxPixels,
	}
}

// Recorder receives one observation per successful Reduce.
type Recorder interface {
	ObserveReduce(meta Meta)
}

// Reducer shrinks images to fit Limits. It holds no per-call state and is safe
// for concurrent use; every call rasterises onto its own surface.
type Reducer struct {
	limits Limits
	log    *slog.Logger
	rec    Recorder
}

func NewReducer(limits Limits, logger *slog.Logger) *Reducer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reducer{limits: limits, log: logger}
}

// WithRecorder attaches a metrics recorder.
func (r *Reducer) WithRecorder(rec Recorder) *Reducer {
	r.rec = rec
	return r
}

func (r *Reducer) Limits() Limits { return r.limits }

// Reduce is the package-level form of Reducer.Reduce with default large-file tuning.
func Reduce(data []byte, mimeType string, ceilingBytes, minWidth, minHeight int) (*CompressedMedia, error) {
	lim := DefaultLimits()
	lim.CeilingBytes = ceilingBytes
	lim.MinWidth = minWidth
	lim.MinHeight = minHeight
	return NewReducer(lim, nil).Reduce(RawMedia{Data: data, MIMEType: mimeType})
}

// Reduce returns raw unchanged when it already fits the ceiling. Otherwise it
// resizes once and re-encodes as JPEG with decreasing quality until the result
// fits or the quality floor is reached. The last encode is always accepted;
// Meta.Oversized reports a miss. Only undecodable input is an error; that
// includes images whose dimensions exceed the limits, which are refused before
// their pixels are decoded.
//
// The loop is bounded and runs to completion; there is no cancellation.
func (r *Reducer) Reduce(raw RawMedia) (*CompressedMedia, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrDecode, format)
	}
	if err := r.checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(raw.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	size := len(raw.Data)
	if size <= r.limits.CeilingBytes {
		mime := raw.MIMEType
		if mime == "" {
			mime = DetectMIME(raw.Data)
		}
		out := &CompressedMedia{
			Data:     raw.Data,
			MIMEType: mime,
			Meta: Meta{
				OriginalSize: size,
				FinalSize:    size,
				Width:        cfg.Width,
				Height:       cfg.Height,
				Quality:      1,
			},
		}
		if r.rec != nil {
			r.rec.ObserveReduce(out.Meta)
		}
		return out, nil
	}

	w, h := TargetSize(cfg.Width, cfg.Height, size, r.limits)
	surface := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha: flatten transparent sources onto white
	draw.Draw(surface, surface.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(surface, surface.Bounds(), src, src.Bounds(), draw.Over, nil)

	var (
		buf     bytes.Buffer
		quality = startQuality
		steps   int
	)
	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, surface, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("media: encode jpeg q=%d: %w", quality, err)
		}
		steps++
		if buf.Len() <= r.limits.CeilingBytes || quality <= qualityFloor {
			break
		}
		quality -= qualityStep
	}

	out := &CompressedMedia{
		Data:     bytes.Clone(buf.Bytes()),
		MIMEType: outputMIME,
		Meta: Meta{
			OriginalSize: size,
			FinalSize:    buf.Len(),
			Steps:        steps,
			Oversized:    buf.Len() > r.limits.CeilingBytes,
			Width:        w,
			Height:       h,
			Quality:      float64(quality) / 100,
		},
	}

	r.log.Debug("image reduced",
		slog.String("format", format),
		slog.Int("original_size", size),
		slog.Int("final_size", out.Meta.FinalSize),
		slog.Int("width", w),
		slog.Int("height", h),
		slog.Float64("quality", out.Meta.Quality),
		slog.Int("steps", steps),
		slog.Bool("oversized", out.Meta.Oversized),
	)
	if out.Meta.Oversized {
		r.log.Warn("image still above ceiling at quality floor",
			slog.Int("final_size", out.Meta.FinalSize),
			slog.Int("ceiling", r.limits.CeilingBytes),
		)
	}
	if r.rec != nil {
		r.rec.ObserveReduce(out.Meta)
	}
	return out, nil
}

func (r *Reducer) checkDimensions(width, height int) error {
	maxW, maxH, maxPx := r.limits.MaxWidth, r.limits.MaxHeight, r.limits.MaxPixels
	if maxW <= 0 {
		maxW = DefaultMaxWidth
	}
	if maxH <= 0 {
		maxH = DefaultMaxHeight
	}
	if maxPx <= 0 {
		maxPx = DefaultMaxPixels
	}
	if width > maxW || height > maxH {
		return fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrTooLarge, width, height, maxW, maxH)
	}
	if px := int64(width) * int64(height); px > int64(maxPx) {
		return fmt.Errorf("%w: %d pixels exceeds %d", ErrTooLarge, px, maxPx)
	}
	return nil
}

// TargetSize computes the resize target for an image of width x height whose
// encoding is size bytes. Encoded size scales with area, hence the square root.
// The resolution floor always wins over the byte target.
func TargetSize(width, height, size int, lim Limits) (int, int) {
	s := math.Sqrt(float64(lim.CeilingBytes) / float64(size))
	if lim.LargeThreshold > 0 && size > lim.LargeThreshold {
		s *= lim.LargeShrink
	}
	w := int(math.Floor(float64(width) * s))
	h := int(math.Floor(float64(height) * s))
	return max(w, lim.MinWidth, 1), max(h, lim.MinHeight, 1)
}
