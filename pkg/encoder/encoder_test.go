package encoder

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-export/pkg/processing"
	"github.com/menta2k/image-export/pkg/types"
)

// createTestBuffer creates an RGBA buffer with a gradient and a transparent
// right half
func createTestBuffer(t testing.TB, width, height int) types.ImageBuffer {
	pix := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			o := (y*width + x) * 4
			pix[o+0] = uint8((x * 255) / width)
			pix[o+1] = uint8((y * 255) / height)
			pix[o+2] = uint8(((x ^ y) & 1) * 255)
			if x < width/2 {
				pix[o+3] = 255
			}
		}
	}
	buf, err := types.NewImageBuffer(width, height, types.RGBA, pix, "")
	require.NoError(t, err)
	return buf
}

func request(f types.Format) types.ExportRequest {
	return types.ExportRequest{Format: f, Size: types.Dimensions{Width: 1, Height: 1}}.Normalized()
}

func TestEncodeJPEGFlattensAlpha(t *testing.T) {
	buf := createTestBuffer(t, 40, 20)

	data, err := New().Encode(buf, request(types.JPEG))
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	if o, ok := img.(interface{ Opaque() bool }); ok {
		assert.True(t, o.Opaque())
	}

	// fully transparent pixels come out white
	r, g, b, _ := img.At(35, 10).RGBA()
	assert.Greater(t, r>>8, uint32(230))
	assert.Greater(t, g>>8, uint32(230))
	assert.Greater(t, b>>8, uint32(230))
}

func TestFlatten(t *testing.T) {
	buf, err := types.NewImageBuffer(3, 1, types.RGBA, []byte{
		0, 0, 0, 128,
		10, 20, 30, 255,
		99, 99, 99, 0,
	}, "")
	require.NoError(t, err)

	img := Flatten(buf)
	assert.Equal(t, []byte{
		127, 127, 127, 255,
		10, 20, 30, 255,
		255, 255, 255, 255,
	}, img.Pix)
}

func TestFlattenRGBPassesThrough(t *testing.T) {
	buf, err := types.NewImageBuffer(1, 1, types.RGB, []byte{1, 2, 3}, "")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 255}, Flatten(buf).Pix)
}

type icoFile struct {
	header  icoHeader
	entries []icoEntry
	images  []image.Image
}

func parseICO(t *testing.T, data []byte) icoFile {
	t.Helper()
	r := bytes.NewReader(data)

	var f icoFile
	require.NoError(t, binary.Read(r, binary.LittleEndian, &f.header))
	f.entries = make([]icoEntry, f.header.Count)
	require.NoError(t, binary.Read(r, binary.LittleEndian, &f.entries))

	for _, e := range f.entries {
		img, err := png.Decode(bytes.NewReader(data[e.Offset : e.Offset+e.Size]))
		require.NoError(t, err)
		f.images = append(f.images, img)
	}
	return f
}

func samePixels(t *testing.T, want, got image.Image) {
	t.Helper()
	require.Equal(t, want.Bounds().Size(), got.Bounds().Size())
	b := want.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			w := color.NRGBAModel.Convert(want.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			g := color.NRGBAModel.Convert(got.At(got.Bounds().Min.X+x, got.Bounds().Min.Y+y)).(color.NRGBA)
			if w != g {
				t.Fatalf("pixel (%d,%d): want %v got %v", x, y, w, g)
			}
		}
	}
}

func TestEncodeICOIndependentSizes(t *testing.T) {
	buf := createTestBuffer(t, 300, 300)
	req := request(types.ICO)
	req.IconSizes = []types.Dimensions{types.Square(16), types.Square(256)}

	data, err := New().Encode(buf, req)
	require.NoError(t, err)

	ico := parseICO(t, data)
	assert.Equal(t, uint16(0), ico.header.Reserved)
	assert.Equal(t, uint16(1), ico.header.Type)
	require.Equal(t, uint16(2), ico.header.Count)

	assert.Equal(t, uint8(16), ico.entries[0].Width)
	assert.Equal(t, uint8(16), ico.entries[0].Height)
	assert.Equal(t, uint8(0), ico.entries[1].Width, "256 is stored as 0")
	assert.Equal(t, uint16(32), ico.entries[0].BitCount)

	assert.Equal(t, 16, ico.images[0].Bounds().Dx())
	assert.Equal(t, 256, ico.images[1].Bounds().Dx())

	src := processing.ToImage(buf)
	samePixels(t, processing.ResizeImage(src, types.Square(16)), ico.images[0])
	samePixels(t, processing.ResizeImage(src, types.Square(256)), ico.images[1])
}

func TestEncodeICODefaultsAndDuplicates(t *testing.T) {
	buf := createTestBuffer(t, 64, 64)

	data, err := EncodeICO(buf, nil)
	require.NoError(t, err)
	ico := parseICO(t, data)
	require.Len(t, ico.images, 1)
	assert.Equal(t, 32, ico.images[0].Bounds().Dx())

	data, err = EncodeICO(buf, []types.Dimensions{types.Square(48), types.Square(48), types.Square(16)})
	require.NoError(t, err)
	ico = parseICO(t, data)
	require.Len(t, ico.images, 2)
	assert.Equal(t, 48, ico.images[0].Bounds().Dx())
	assert.Equal(t, 16, ico.images[1].Bounds().Dx())
}

func TestEncodeICORejectsOversize(t *testing.T) {
	_, err := EncodeICO(createTestBuffer(t, 8, 8), []types.Dimensions{types.Square(512)})
	require.Error(t, err)
}

type svgDoc struct {
	XMLName xml.Name `xml:"http://www.w3.org/2000/svg svg"`
	Width   string   `xml:"width,attr"`
	Height  string   `xml:"height,attr"`
	ViewBox string   `xml:"viewBox,attr"`
	Images  []struct {
		Width  string `xml:"width,attr"`
		Height string `xml:"height,attr"`
		Href   string `xml:"http://www.w3.org/1999/xlink href,attr"`
	} `xml:"http://www.w3.org/2000/svg image"`
}

func TestEncodeSVG(t *testing.T) {
	buf := createTestBuffer(t, 100, 50)

	data, err := New().Encode(buf, request(types.SVG))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `<?xml version="1.0" encoding="UTF-8"`))

	var doc svgDoc
	require.NoError(t, xml.Unmarshal(data, &doc))
	assert.Equal(t, "100", doc.Width)
	assert.Equal(t, "50", doc.Height)
	assert.Equal(t, "0 0 100 50", doc.ViewBox)
	require.Len(t, doc.Images, 1)
	assert.Equal(t, "100", doc.Images[0].Width)
	assert.Equal(t, "50", doc.Images[0].Height)

	const prefix = "data:image/png;base64,"
	require.True(t, strings.HasPrefix(doc.Images[0].Href, prefix))
	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(doc.Images[0].Href, prefix))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	// lossless payload keeps the transparent half
	_, _, _, a := img.At(90, 10).RGBA()
	assert.Equal(t, uint32(0), a)
}

func TestEncodeRasterFormats(t *testing.T) {
	buf := createTestBuffer(t, 30, 20)

	tests := []struct {
		format     types.Format
		name       string
		keepsAlpha bool
	}{
		{types.PNG, "png", true},
		{types.BMP, "bmp", false},
		{types.TIFF, "tiff", true},
		{types.GIF, "gif", true},
		{types.WEBP, "webp", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := New().Encode(buf, request(tc.format))
			require.NoError(t, err)

			img, format, err := image.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, tc.name, format)
			assert.Equal(t, 30, img.Bounds().Dx())
			assert.Equal(t, 20, img.Bounds().Dy())

			if tc.keepsAlpha {
				_, _, _, a := img.At(25, 5).RGBA()
				assert.Equal(t, uint32(0), a, "transparent pixel lost its alpha")
			}
		})
	}
}

func TestEncodePNGPreservesPixels(t *testing.T) {
	buf := createTestBuffer(t, 16, 8)

	data, err := New().Encode(buf, request(types.PNG))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	samePixels(t, processing.ToImage(buf), img)
}

func TestEncodeWEBPLossless(t *testing.T) {
	buf := createTestBuffer(t, 16, 8)
	req := request(types.WEBP)
	req.Lossless = true

	data, err := New().Encode(buf, req)
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	// compare opaque pixels only; webp may drop color under zero alpha
	want := processing.ToImage(buf)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			w := want.NRGBAAt(x, y)
			g := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			assert.Equal(t, w, g, "pixel (%d,%d)", x, y)
		}
	}
}

func TestEncodeEmptyBuffer(t *testing.T) {
	_, err := New().Encode(types.ImageBuffer{}, request(types.PNG))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEncodingFailed)
}

func TestEncodeUnknownFormat(t *testing.T) {
	req := request(types.PNG)
	req.Format = types.Format(42)

	_, err := New().Encode(createTestBuffer(t, 2, 2), req)
	assert.ErrorIs(t, err, types.ErrEncodingFailed)
}

func BenchmarkEncodeICO(b *testing.B) {
	buf := createTestBuffer(b, 512, 512)
	sizes := types.StandardIconSizes

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		EncodeICO(buf, sizes)
	}
}
