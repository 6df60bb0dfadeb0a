// Package media downsizes image attachments before upload so mobile clients
// on slow links do not ship full-resolution camera output.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

const (
	// DefaultMaxDim caps the longest image edge in pixels.
	DefaultMaxDim = 1600
	// DefaultQuality is the JPEG re-encode quality.
	DefaultQuality = 82

	// Images already below this size are not worth re-encoding.
	skipBelowBytes = 64 << 10
)

// Optimizer re-encodes images as bounded JPEGs. It implements
// chat.MediaOptimizer. The zero value is not usable; use New.
type Optimizer struct {
	maxDim  int
	quality int
}

// New constructs an Optimizer. Non-positive arguments fall back to defaults.
func New(maxDim, quality int) *Optimizer {
	if maxDim <= 0 {
		maxDim = DefaultMaxDim
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Optimizer{maxDim: maxDim, quality: quality}
}

// Optimize decodes data, scales it down to fit the configured bound, and
// re-encodes it as JPEG. Input that is already small, not decodable, or not
// larger than its optimized form is returned unchanged: a format this client
// cannot decode still uploads as-is.
func (o *Optimizer) Optimize(data []byte) ([]byte, error) {
	if len(data) <= skipBelowBytes {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, nil
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return data, nil
	}

	dw, dh := fit(w, h, o.maxDim)

	var out image.Image = src
	if dw != w || dh != h {
		dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: o.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	if buf.Len() >= len(data) {
		return data, nil
	}
	return buf.Bytes(), nil
}

// fit scales (w, h) down proportionally so the longest edge is at most max.
func fit(w, h, max int) (int, int) {
	long := w
	if h > long {
		long = h
	}
	if long <= max {
		return w, h
	}

	dw := w * max / long
	dh := h * max / long
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	return dw, dh
}
