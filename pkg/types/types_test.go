package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImageBufferCopies(t *testing.T) {
	pix := []byte{1, 2, 3, 4, 5, 6}
	buf, err := NewImageBuffer(2, 1, RGB, pix, "a.png")
	require.NoError(t, err)

	pix[0] = 9
	assert.Equal(t, byte(1), buf.Pix()[0])
	assert.Equal(t, Dimensions{Width: 2, Height: 1}, buf.Size())
	assert.Equal(t, 6, buf.Stride())
	assert.False(t, buf.HasAlpha())
}

func TestImageBufferRejectsBadInput(t *testing.T) {
	_, err := NewImageBuffer(0, 1, RGB, nil, "")
	require.Error(t, err)

	_, err = WrapImageBuffer(2, 2, RGBA, make([]byte, 12), "")
	require.Error(t, err)
}

func TestMustWrapImageBuffer(t *testing.T) {
	pix := make([]byte, 2*2*4)
	buf := MustWrapImageBuffer(2, 2, RGBA, pix, "")
	assert.True(t, buf.HasAlpha())

	pix[0] = 7
	assert.Equal(t, byte(7), buf.Pix()[0])

	assert.Panics(t, func() { MustWrapImageBuffer(2, 2, RGB, pix, "") })
}
