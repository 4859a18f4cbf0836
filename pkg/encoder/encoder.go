// Package encoder turns an ImageBuffer into the bytes of an export format.
package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/image-export/pkg/processing"
	"github.com/menta2k/image-export/pkg/types"
)

// Encoder applies the per-format rules for an export request
type Encoder struct {
	pngLevel png.CompressionLevel
}

// New creates an encoder with default PNG compression
func New() *Encoder {
	return &Encoder{pngLevel: png.DefaultCompression}
}

// Encode encodes buf for req. req must already be validated and normalized.
func (e *Encoder) Encode(buf types.ImageBuffer, req types.ExportRequest) ([]byte, error) {
	if buf.IsZero() {
		return nil, types.EncodingFailed(req.Format, "empty image buffer", nil)
	}

	var (
		data []byte
		err  error
	)
	switch req.Format {
	case types.JPEG:
		data, err = e.encodeJPEG(buf, req.Quality)
	case types.ICO:
		data, err = EncodeICO(buf, req.IconSizes)
	case types.SVG:
		data, err = EncodeSVG(buf)
	case types.WEBP:
		data, err = e.encodeWEBP(buf, req.Quality, req.Lossless)
	case types.PNG, types.BMP, types.TIFF, types.GIF:
		data, err = e.encodeRaster(buf, req.Format)
	default:
		return nil, types.EncodingFailed(req.Format, "unsupported format", nil)
	}
	if err != nil {
		return nil, types.EncodingFailed(req.Format, "encoder error", err)
	}

	log.Debug().
		Str("format", req.Format.String()).
		Int("width", buf.Width()).
		Int("height", buf.Height()).
		Int("bytes", len(data)).
		Msg("encoded image")

	return data, nil
}

func (e *Encoder) encodeJPEG(buf types.ImageBuffer, quality int) ([]byte, error) {
	var out bytes.Buffer
	if err := imaging.Encode(&out, Flatten(buf), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (e *Encoder) encodeWEBP(buf types.ImageBuffer, quality int, lossless bool) ([]byte, error) {
	img := processing.ToImage(buf)
	// libwebp takes straight alpha, so the NRGBA bytes are handed over as is
	rgba := &image.RGBA{Pix: img.Pix, Stride: img.Stride, Rect: img.Rect}

	var out bytes.Buffer
	opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
	if err := webp.Encode(&out, rgba, opts); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (e *Encoder) encodeRaster(buf types.ImageBuffer, f types.Format) ([]byte, error) {
	var (
		out    bytes.Buffer
		format imaging.Format
		opts   []imaging.EncodeOption
	)
	switch f {
	case types.PNG:
		format = imaging.PNG
		opts = append(opts, imaging.PNGCompressionLevel(e.pngLevel))
	case types.BMP:
		format = imaging.BMP
	case types.TIFF:
		format = imaging.TIFF
	case types.GIF:
		format = imaging.GIF
		opts = append(opts, imaging.GIFNumColors(256))
		if buf.HasAlpha() {
			opts = append(opts, imaging.GIFQuantizer(transparentPalette{}))
		}
	default:
		return nil, fmt.Errorf("no raster encoder for %s", f)
	}
	if err := imaging.Encode(&out, processing.ToImage(buf), format, opts...); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Flatten composites buf over opaque white and returns an opaque image.
// Each channel becomes src*a/255 + 255*(1-a/255). RGB buffers pass through.
func Flatten(buf types.ImageBuffer) *image.NRGBA {
	img := processing.ToImage(buf)
	if !buf.HasAlpha() {
		return img
	}
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		a := uint32(pix[i+3])
		inv := 255 - a
		pix[i+0] = uint8((uint32(pix[i+0])*a + 255*inv + 127) / 255)
		pix[i+1] = uint8((uint32(pix[i+1])*a + 255*inv + 127) / 255)
		pix[i+2] = uint8((uint32(pix[i+2])*a + 255*inv + 127) / 255)
		pix[i+3] = 0xff
	}
	return img
}

// transparentPalette reserves the last GIF palette slot for full transparency
type transparentPalette struct{}

func (transparentPalette) Quantize(p color.Palette, _ image.Image) color.Palette {
	p = append(p, palette.Plan9[:255]...)
	return append(p, color.Transparent)
}

// encodePNG is the lossless intermediate used by ICO and SVG
func encodePNG(img image.Image) ([]byte, error) {
	var out bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&out, img); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
