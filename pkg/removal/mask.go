package removal

import (
	"image"

	"github.com/menta2k/image-export/pkg/types"
)

// ApplyMask composites mask into the alpha channel of img and returns a new
// RGBA buffer. A mask value of 0 makes the pixel fully transparent; existing
// alpha is scaled by the mask rather than replaced.
func ApplyMask(img types.ImageBuffer, mask *image.Gray) types.ImageBuffer {
	w, h := img.Width(), img.Height()
	src := img.Pix()
	ch := img.Layout().Channels()
	out := make([]byte, w*h*4)

	for y := 0; y < h; y++ {
		mrow := mask.Pix[y*mask.Stride:]
		for x := 0; x < w; x++ {
			i := (y*w + x) * ch
			o := (y*w + x) * 4
			out[o+0] = src[i+0]
			out[o+1] = src[i+1]
			out[o+2] = src[i+2]

			a := uint32(0xff)
			if ch == 4 {
				a = uint32(src[i+3])
			}
			out[o+3] = uint8((a*uint32(mrow[x]) + 127) / 255)
		}
	}

	return types.MustWrapImageBuffer(w, h, types.RGBA, out, img.Source())
}
