package types

import "fmt"

// ExportRequest describes one preview or save. Build it once, validate it, and
// do not mutate it afterwards.
type ExportRequest struct {
	Format           Format
	Size             Dimensions
	Quality          int
	IconSizes        []Dimensions
	RemoveBackground bool
	Lossless         bool
	Destination      string
}

// MaxIconSize is the largest side an ICO directory entry can describe
const MaxIconSize = 256

// Validate checks the request before any pipeline stage runs. An empty icon
// size set is not an error; Normalized substitutes the default.
func (r ExportRequest) Validate() error {
	if _, ok := formatNames[r.Format]; !ok {
		return InvalidRequest("unsupported format %d", int(r.Format))
	}
	if !r.Size.Valid() {
		return InvalidRequest("dimensions %s outside [1, %d]", r.Size, MaxDimension)
	}
	if r.Quality < MinQuality || r.Quality > MaxQuality {
		return InvalidRequest("quality %d outside [%d, %d]", r.Quality, MinQuality, MaxQuality)
	}
	if r.Format == SVG && r.RemoveBackground {
		return IncompatibleOption("background removal cannot be combined with SVG export")
	}
	if r.Format == ICO {
		for _, s := range r.IconSizes {
			if s.Width < 1 || s.Height < 1 || s.Width > MaxIconSize || s.Height > MaxIconSize {
				return InvalidRequest("icon size %s outside [1, %d]", s, MaxIconSize)
			}
		}
	}
	return nil
}

// Normalized returns a copy with defaults applied: an empty ICO size set
// becomes {32x32} and a zero quality becomes DefaultQuality.
func (r ExportRequest) Normalized() ExportRequest {
	out := r
	if out.Quality == 0 {
		out.Quality = DefaultQuality
	}
	if len(out.IconSizes) == 0 {
		out.IconSizes = []Dimensions{DefaultIconSize}
	} else {
		out.IconSizes = append([]Dimensions(nil), r.IconSizes...)
	}
	return out
}

func (r ExportRequest) String() string {
	return fmt.Sprintf("%s %s q=%d bg=%t", r.Format, r.Size, r.Quality, r.RemoveBackground)
}
