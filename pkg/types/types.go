package types

import (
	"fmt"
	"strings"
)

// MaxDimension is the largest width or height accepted for an export
const MaxDimension = 9999

// MaxQuality and MinQuality bound the lossy encoder quality knob
const (
	MinQuality     = 1
	MaxQuality     = 100
	DefaultQuality = 85
)

// Layout describes the channel layout of an ImageBuffer
type Layout int

const (
	RGB Layout = iota
	RGBA
)

// Channels returns the number of bytes per pixel for the layout
func (l Layout) Channels() int {
	if l == RGBA {
		return 4
	}
	return 3
}

func (l Layout) String() string {
	if l == RGBA {
		return "RGBA"
	}
	return "RGB"
}

// ImageBuffer is an immutable raster image in row-major order.
// RGBA buffers carry straight (non-premultiplied) alpha.
type ImageBuffer struct {
	width  int
	height int
	layout Layout
	pix    []byte
	source string
}

// NewImageBuffer validates the pixel slice against the dimensions and layout.
// The slice is copied so later mutation by the caller cannot leak in.
func NewImageBuffer(width, height int, layout Layout, pix []byte, source string) (ImageBuffer, error) {
	if width <= 0 || height <= 0 {
		return ImageBuffer{}, fmt.Errorf("invalid buffer dimensions %dx%d", width, height)
	}
	if want := width * height * layout.Channels(); len(pix) != want {
		return ImageBuffer{}, fmt.Errorf("pixel data length %d does not match %dx%d %s (want %d)",
			len(pix), width, height, layout, want)
	}
	cp := make([]byte, len(pix))
	copy(cp, pix)
	return ImageBuffer{width: width, height: height, layout: layout, pix: cp, source: source}, nil
}

// WrapImageBuffer adopts pix without copying. The caller must not retain pix.
func WrapImageBuffer(width, height int, layout Layout, pix []byte, source string) (ImageBuffer, error) {
	if width <= 0 || height <= 0 {
		return ImageBuffer{}, fmt.Errorf("invalid buffer dimensions %dx%d", width, height)
	}
	if want := width * height * layout.Channels(); len(pix) != want {
		return ImageBuffer{}, fmt.Errorf("pixel data length %d does not match %dx%d %s (want %d)",
			len(pix), width, height, layout, want)
	}
	return ImageBuffer{width: width, height: height, layout: layout, pix: pix, source: source}, nil
}

// MustWrapImageBuffer is WrapImageBuffer for callers that sized pix
// themselves. It panics if the dimensions and pixel data disagree.
func MustWrapImageBuffer(width, height int, layout Layout, pix []byte, source string) ImageBuffer {
	buf, err := WrapImageBuffer(width, height, layout, pix, source)
	if err != nil {
		panic(err)
	}
	return buf
}

func (b ImageBuffer) Width() int { return b.width }
func (b ImageBuffer) Height() int { return b.height }
func (b ImageBuffer) Layout() Layout { return b.layout }
func (b ImageBuffer) Source() string { return b.source }
func (b ImageBuffer) HasAlpha() bool { return b.layout == RGBA }
func (b ImageBuffer) IsZero() bool { return b.pix == nil }
func (b ImageBuffer) Size() Dimensions { return Dimensions{Width: b.width, Height: b.height} }

// Pix returns the underlying pixel data. It must be treated as read-only.
func (b ImageBuffer) Pix() []byte { return b.pix }

// Stride is the number of bytes per row
func (b ImageBuffer) Stride() int { return b.width * b.layout.Channels() }

// Dimensions is a width/height pair in pixels
type Dimensions struct {
	Width  int `json:"width" mapstructure:"width"`
	Height int `json:"height" mapstructure:"height"`
}

// Valid reports whether both sides are within [1, MaxDimension]
func (d Dimensions) Valid() bool {
	return d.Width >= 1 && d.Width <= MaxDimension && d.Height >= 1 && d.Height <= MaxDimension
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Square returns an n×n Dimensions
func Square(n int) Dimensions {
	return Dimensions{Width: n, Height: n}
}

// Axis identifies which side of a Dimensions the user edited
type Axis int

const (
	Width Axis = iota
	Height
)

// Format is an export target
type Format int

const (
	JPEG Format = iota
	PNG
	BMP
	TIFF
	GIF
	WEBP
	ICO
	SVG
)

var formatNames = map[Format]string{
	JPEG: "JPEG",
	PNG:  "PNG",
	BMP:  "BMP",
	TIFF: "TIFF",
	GIF:  "GIF",
	WEBP: "WEBP",
	ICO:  "ICO",
	SVG:  "SVG",
}

var formatExtensions = map[Format]string{
	JPEG: ".jpg",
	PNG:  ".png",
	BMP:  ".bmp",
	TIFF: ".tiff",
	GIF:  ".gif",
	WEBP: ".webp",
	ICO:  ".ico",
	SVG:  ".svg",
}

// Formats lists every export format in display order
func Formats() []Format {
	return []Format{JPEG, PNG, BMP, TIFF, GIF, WEBP, ICO, SVG}
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Extension returns the canonical file extension including the dot
func (f Format) Extension() string {
	return formatExtensions[f]
}

// SupportsAlpha reports whether the encoded file keeps an alpha channel
func (f Format) SupportsAlpha() bool {
	return f != JPEG
}

// ParseFormat accepts a format name or extension, case-insensitively
func ParseFormat(s string) (Format, error) {
	name := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(s), "."))
	switch name {
	case "JPG":
		return JPEG, nil
	case "TIF":
		return TIFF, nil
	}
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown format: %q", s)
}

// StandardIconSizes are the icon sizes offered for ICO export
var StandardIconSizes = []Dimensions{
	Square(16), Square(32), Square(48), Square(64), Square(128), Square(256),
}

// DefaultIconSize is used when an ICO export requests no sizes
var DefaultIconSize = Square(32)

// PipelineResult is the outcome of a successful preview or save
type PipelineResult struct {
	Data   []byte
	Format Format
	Size   Dimensions
	Path   string

	// BackgroundRemoved is false when removal was requested but skipped
	// because the capability is unavailable
	BackgroundRemoved bool
}

// JobState is the lifecycle state carried by a JobProgress event
type JobState int

const (
	JobRunning JobState = iota
	JobCompleted
	JobFailed
	JobCancelled
)

func (s JobState) String() string {
	switch s {
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobCancelled:
		return "cancelled"
	default:
		return "running"
	}
}

// JobProgress is one event of a background job. Percent is non-decreasing
// within a job; exactly one event per job has a terminal State.
type JobProgress struct {
	Percent int
	State   JobState
	Result  ImageBuffer
	Err     error
}

// Terminal reports whether the event ends the job
func (p JobProgress) Terminal() bool {
	return p.State != JobRunning
}
