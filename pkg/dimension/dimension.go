// Package dimension computes export sizes under an optional aspect-ratio lock.
package dimension

import (
	"math"

	"github.com/menta2k/image-export/pkg/types"
)

// Compute returns the dimensions to use after the user edits one axis.
//
// With lockAspect unset, edited is returned as is. Otherwise the edited axis
// is clamped to [1, types.MaxDimension] and the companion axis is recomputed
// from the original ratio, rounded to the nearest pixel and clamped the same
// way. A zero original size has no ratio and also returns edited unchanged;
// out of range sizes on these pass-through paths are rejected by
// ExportRequest.Validate.
func Compute(original, edited types.Dimensions, axis types.Axis, lockAspect bool) types.Dimensions {
	if !lockAspect || original.Width <= 0 || original.Height <= 0 {
		return edited
	}

	out := edited
	switch axis {
	case types.Width:
		out.Width = clamp(edited.Width)
		out.Height = scale(out.Width, original.Height, original.Width)
	case types.Height:
		out.Height = clamp(edited.Height)
		out.Width = scale(out.Height, original.Width, original.Height)
	}
	return out
}

// Ratio returns height/width of d, or 0 when d has no width
func Ratio(d types.Dimensions) float64 {
	if d.Width <= 0 {
		return 0
	}
	return float64(d.Height) / float64(d.Width)
}

func scale(v, num, den int) int {
	return clamp(int(math.Round(float64(v) * float64(num) / float64(den))))
}

func clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > types.MaxDimension {
		return types.MaxDimension
	}
	return n
}
