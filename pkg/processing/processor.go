package processing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-export/pkg/types"
)

// Filter is the resampling filter used by every resize in the pipeline
var Filter = imaging.Lanczos

// Processor loads images and converts between image.Image and ImageBuffer
type Processor struct {
	client *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Image-Export/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	log.Debug().Str("url", imageURL).Int("bytes", len(imageData)).Msg("downloaded image")

	return p.DecodeBytes(imageData)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	low := strings.ToLower(path)
	if strings.HasSuffix(low, ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

// LoadBuffer loads source and converts it to an ImageBuffer
func (p *Processor) LoadBuffer(ctx context.Context, source string) (types.ImageBuffer, error) {
	img, err := p.LoadImageSmart(ctx, source)
	if err != nil {
		return types.ImageBuffer{}, err
	}
	buf := ToBuffer(img, source)
	log.Info().
		Str("source", source).
		Int("width", buf.Width()).
		Int("height", buf.Height()).
		Str("layout", buf.Layout().String()).
		Msg("loaded image")
	return buf, nil
}

// DecodeBytes decodes an image from byte data with WebP support
func (p *Processor) DecodeBytes(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// ToBuffer converts img into an ImageBuffer. Images that are fully opaque
// become RGB; anything with transparency keeps its alpha as RGBA. An empty
// image yields the zero ImageBuffer.
func ToBuffer(img image.Image, source string) types.ImageBuffer {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if w == 0 || h == 0 {
		return types.ImageBuffer{}
	}

	if !isOpaque(img) {
		return types.MustWrapImageBuffer(w, h, types.RGBA, compact(nrgba), source)
	}

	rgb := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		out := rgb[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			out[x*3+0] = row[x*4+0]
			out[x*3+1] = row[x*4+1]
			out[x*3+2] = row[x*4+2]
		}
	}
	return types.MustWrapImageBuffer(w, h, types.RGB, rgb, source)
}

// ToImage converts an ImageBuffer into an *image.NRGBA. The pixel data is copied.
func ToImage(buf types.ImageBuffer) *image.NRGBA {
	w, h := buf.Width(), buf.Height()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	src := buf.Pix()

	if buf.Layout() == types.RGBA {
		copy(img.Pix, src)
		return img
	}

	for i, j := 0, 0; i < len(src); i, j = i+3, j+4 {
		img.Pix[j+0] = src[i+0]
		img.Pix[j+1] = src[i+1]
		img.Pix[j+2] = src[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// Resize resamples buf to size with the pipeline filter. The channel layout
// of the input is kept. size must be a valid Dimensions.
func Resize(buf types.ImageBuffer, size types.Dimensions) types.ImageBuffer {
	if buf.Width() == size.Width && buf.Height() == size.Height {
		return buf
	}
	resized := ResizeImage(ToImage(buf), size)
	if buf.Layout() == types.RGBA {
		return types.MustWrapImageBuffer(size.Width, size.Height, types.RGBA, compact(resized), buf.Source())
	}
	return toRGB(resized, buf.Source())
}

// ResizeImage resamples img to size with the pipeline filter
func ResizeImage(img image.Image, size types.Dimensions) *image.NRGBA {
	return imaging.Resize(img, size.Width, size.Height, Filter)
}

func toRGB(img *image.NRGBA, source string) types.ImageBuffer {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	rgb := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			o := (y*w + x) * 3
			rgb[o+0] = row[x*4+0]
			rgb[o+1] = row[x*4+1]
			rgb[o+2] = row[x*4+2]
		}
	}
	return types.MustWrapImageBuffer(w, h, types.RGB, rgb, source)
}

// compact returns the pixel slice of img without row padding
func compact(img *image.NRGBA) []byte {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if img.Stride == w*4 && len(img.Pix) == w*h*4 {
		return img.Pix
	}
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		copy(out[y*w*4:(y+1)*w*4], img.Pix[y*img.Stride:y*img.Stride+w*4])
	}
	return out
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return imaging.Clone(img).Opaque()
}
