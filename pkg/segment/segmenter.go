// Package segment wraps the foreground segmentation engine used for
// background removal.
package segment

import (
	"context"
	"image"
)

// Segmenter computes a foreground mask for an image. The mask has the same
// bounds as the input; 255 is foreground and 0 is background.
type Segmenter interface {
	Mask(ctx context.Context, img image.Image) (*image.Gray, error)
	Close() error
}
