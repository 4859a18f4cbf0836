package segment

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

// U²-Net normalization constants (ImageNet mean/std)
var (
	mean = [3]float32{0.485, 0.456, 0.406}
	std  = [3]float32{0.229, 0.224, 0.225}
)

// Options configures the ONNX Runtime segmentation backend
type Options struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default search.
	LibraryPath string
	// ModelPath is the U²-Net .onnx file.
	ModelPath string
	// InputSize is the square side the model expects.
	InputSize int
	// InputName and OutputName are the graph tensor names.
	InputName  string
	OutputName string
}

// DefaultOptions matches the stock u2net.onnx export
func DefaultOptions() Options {
	return Options{
		InputSize:  320,
		InputName:  "input.1",
		OutputName: "1959",
	}
}

// ONNXSegmenter runs U²-Net through ONNX Runtime
type ONNXSegmenter struct {
	opts    Options
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	ownsEnv bool
	mu      sync.Mutex
}

// NewONNXSegmenter initializes the runtime and loads the model
func NewONNXSegmenter(opts Options) (*ONNXSegmenter, error) {
	if opts.InputSize <= 0 {
		return nil, fmt.Errorf("invalid model input size %d", opts.InputSize)
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("segmentation model not found at %q: %w", opts.ModelPath, err)
	}

	s := &ONNXSegmenter{opts: opts}

	if !ort.IsInitialized() {
		if opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(opts.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("error initializing ORT environment: %w", err)
		}
		s.ownsEnv = true
	}

	side := int64(opts.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, side, side))
	if err != nil {
		s.release()
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	s.input = input

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, side, side))
	if err != nil {
		s.release()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}
	s.output = output

	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("error creating ORT session: %w", err)
	}
	s.session = session

	return s, nil
}

// Mask runs the model on img and returns a mask with img's size
func (s *ONNXSegmenter) Mask(ctx context.Context, img image.Image) (*image.Gray, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty input image")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, fmt.Errorf("segmenter is closed")
	}

	side := s.opts.InputSize
	preprocess(imaging.Resize(img, side, side, imaging.Lanczos), s.input.GetData())

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("error running segmentation model: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	small := postprocess(s.output.GetData(), side)
	full := imaging.Resize(small, b.Dx(), b.Dy(), imaging.Lanczos)

	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for i := range mask.Pix {
		// resized gray image is stored as NRGBA; any channel carries the value
		mask.Pix[i] = full.Pix[i*4]
	}
	return mask, nil
}

// Close releases the session, tensors and, if this segmenter created it, the
// runtime environment.
func (s *ONNXSegmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release()
}

func (s *ONNXSegmenter) release() error {
	var firstErr error
	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			firstErr = fmt.Errorf("error destroying ORT session: %w", err)
		}
		s.session = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}
	if s.ownsEnv {
		if err := ort.DestroyEnvironment(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error destroying ORT environment: %w", err)
		}
		s.ownsEnv = false
	}
	return firstErr
}

// preprocess writes img into dst as a normalized NCHW float tensor. Pixels are
// scaled by the image maximum before the mean/std normalization.
func preprocess(img *image.NRGBA, dst []float32) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	plane := w * h

	var maxVal uint8
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				if v := row[x*4+c]; v > maxVal {
					maxVal = v
				}
			}
		}
	}
	scale := float32(1)
	if maxVal > 0 {
		scale = float32(maxVal)
	}

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			for c := 0; c < 3; c++ {
				v := float32(row[x*4+c]) / scale
				dst[c*plane+i] = (v - mean[c]) / std[c]
			}
		}
	}
}

// postprocess min-max normalizes the first output plane into a side×side mask
func postprocess(pred []float32, side int) *image.Gray {
	plane := pred[:side*side]
	lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, v := range plane {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	mask := image.NewGray(image.Rect(0, 0, side, side))
	for i, v := range plane {
		n := (v - lo) / span
		mask.Pix[i] = uint8(math.Round(float64(n) * 255))
	}
	return mask
}

// Probe tries to bring up the ONNX backend once. A failure is logged and
// reported as an unavailable capability, never as an error.
func Probe(opts Options) (Segmenter, bool) {
	if opts.ModelPath == "" {
		log.Warn().Msg("background removal disabled: no segmentation model configured")
		return nil, false
	}

	seg, err := NewONNXSegmenter(opts)
	if err != nil {
		log.Warn().Err(err).Str("model", opts.ModelPath).Msg("background removal unavailable")
		return nil, false
	}

	log.Info().Str("model", opts.ModelPath).Int("input_size", opts.InputSize).Msg("segmentation model loaded")
	return seg, true
}
