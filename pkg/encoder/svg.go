package encoder

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/menta2k/image-export/pkg/processing"
	"github.com/menta2k/image-export/pkg/types"
)

const (
	svgNamespace   = "http://www.w3.org/2000/svg"
	xlinkNamespace = "http://www.w3.org/1999/xlink"
)

// EncodeSVG embeds buf as a base64 PNG inside a minimal standalone SVG
// document sized to the buffer's pixel dimensions.
func EncodeSVG(buf types.ImageBuffer) ([]byte, error) {
	data, err := encodePNG(processing.ToImage(buf))
	if err != nil {
		return nil, fmt.Errorf("png payload: %w", err)
	}

	w, h := buf.Width(), buf.Height()
	var out bytes.Buffer
	out.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="no"?>` + "\n")
	fmt.Fprintf(&out, `<svg xmlns="%s" xmlns:xlink="%s" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n",
		svgNamespace, xlinkNamespace, w, h, w, h)
	fmt.Fprintf(&out, `  <image width="%d" height="%d" xlink:href="data:image/png;base64,`, w, h)
	out.WriteString(base64.StdEncoding.EncodeToString(data))
	out.WriteString(`"/>` + "\n")
	out.WriteString("</svg>\n")
	return out.Bytes(), nil
}
