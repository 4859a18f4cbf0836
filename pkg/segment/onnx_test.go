package segment

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessNormalizesByMax(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 50, B: 0, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 0, G: 0, B: 0, A: 255})

	dst := make([]float32, 3*2)
	preprocess(img, dst)

	// the brightest channel value maps to 1.0 before mean/std
	assert.InDelta(t, (1.0-0.485)/0.229, dst[0], 1e-5)
	assert.InDelta(t, (0.5-0.456)/0.224, dst[2], 1e-5)
	assert.InDelta(t, (0.0-0.406)/0.225, dst[4], 1e-5)
	assert.InDelta(t, (0.0-0.485)/0.229, dst[1], 1e-5)
}

func TestPostprocessMinMax(t *testing.T) {
	pred := []float32{-2, 0, 2, 2}
	mask := postprocess(pred, 2)

	require.Equal(t, 2, mask.Bounds().Dx())
	assert.Equal(t, []uint8{0, 128, 255, 255}, mask.Pix)
}

func TestPostprocessFlatOutput(t *testing.T) {
	mask := postprocess([]float32{0.3, 0.3, 0.3, 0.3}, 2)
	assert.Equal(t, []uint8{0, 0, 0, 0}, mask.Pix)
}

func TestProbeWithoutModel(t *testing.T) {
	seg, ok := Probe(DefaultOptions())
	assert.False(t, ok)
	assert.Nil(t, seg)
}

func TestProbeMissingModelFile(t *testing.T) {
	opts := DefaultOptions()
	opts.ModelPath = t.TempDir() + "/missing.onnx"

	seg, ok := Probe(opts)
	assert.False(t, ok)
	assert.Nil(t, seg)
}

func TestNewONNXSegmenterRejectsBadInputSize(t *testing.T) {
	opts := DefaultOptions()
	opts.InputSize = 0
	_, err := NewONNXSegmenter(opts)
	require.Error(t, err)
}
