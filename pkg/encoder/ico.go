package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/menta2k/image-export/pkg/processing"
	"github.com/menta2k/image-export/pkg/types"
)

const (
	icoHeaderSize = 6
	icoEntrySize  = 16
	icoTypeIcon   = 1
)

type icoHeader struct {
	Reserved uint16
	Type     uint16
	Count    uint16
}

type icoEntry struct {
	Width      uint8
	Height     uint8
	ColorCount uint8
	Reserved   uint8
	Planes     uint16
	BitCount   uint16
	Size       uint32
	Offset     uint32
}

// EncodeICO writes one PNG-compressed icon per requested size. Every icon is
// resampled from buf itself, never from a previously resized icon. An empty
// sizes list produces a single 32x32 icon; duplicate sizes are written once.
func EncodeICO(buf types.ImageBuffer, sizes []types.Dimensions) ([]byte, error) {
	sizes = uniqueSizes(sizes)
	if len(sizes) == 0 {
		sizes = []types.Dimensions{types.DefaultIconSize}
	}

	src := processing.ToImage(buf)
	images := make([][]byte, len(sizes))
	for i, size := range sizes {
		if size.Width < 1 || size.Height < 1 || size.Width > types.MaxIconSize || size.Height > types.MaxIconSize {
			return nil, fmt.Errorf("icon size %s outside [1, %d]", size, types.MaxIconSize)
		}
		data, err := encodePNG(processing.ResizeImage(src, size))
		if err != nil {
			return nil, fmt.Errorf("icon %s: %w", size, err)
		}
		images[i] = data
	}

	var out bytes.Buffer
	header := icoHeader{Type: icoTypeIcon, Count: uint16(len(sizes))}
	if err := binary.Write(&out, binary.LittleEndian, header); err != nil {
		return nil, err
	}

	offset := uint32(icoHeaderSize + icoEntrySize*len(sizes))
	for i, size := range sizes {
		entry := icoEntry{
			Width:    icoSide(size.Width),
			Height:   icoSide(size.Height),
			Planes:   1,
			BitCount: 32,
			Size:     uint32(len(images[i])),
			Offset:   offset,
		}
		if err := binary.Write(&out, binary.LittleEndian, entry); err != nil {
			return nil, err
		}
		offset += entry.Size
	}
	for _, data := range images {
		out.Write(data)
	}
	return out.Bytes(), nil
}

// icoSide encodes a side length for the directory; 256 is stored as 0
func icoSide(n int) uint8 {
	if n >= types.MaxIconSize {
		return 0
	}
	return uint8(n)
}

func uniqueSizes(sizes []types.Dimensions) []types.Dimensions {
	seen := make(map[types.Dimensions]bool, len(sizes))
	out := make([]types.Dimensions, 0, len(sizes))
	for _, s := range sizes {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
