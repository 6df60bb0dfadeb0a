package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
)

// noisyPNG renders incompressible noise so the encoded size clears the
// skip-below threshold.
func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestOptimizeDownscalesOversizedImage(t *testing.T) {
	t.Parallel()

	src := noisyPNG(t, 1200, 900)
	if len(src) <= skipBelowBytes {
		t.Fatalf("fixture too small to exercise optimizer: %d bytes", len(src))
	}

	o := New(400, 80)
	out, err := o.Optimize(src)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(out) >= len(src) {
		t.Fatalf("optimized output not smaller: in=%d out=%d", len(src), len(out))
	}

	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("format=%q want=jpeg", format)
	}
	b := img.Bounds()
	if b.Dx() != 400 || b.Dy() != 300 {
		t.Fatalf("bounds=%dx%d want=400x300", b.Dx(), b.Dy())
	}
}

func TestOptimizePassesSmallInputThrough(t *testing.T) {
	t.Parallel()

	small := []byte("tiny payload")
	o := New(0, 0)
	out, err := o.Optimize(small)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if !bytes.Equal(out, small) {
		t.Fatalf("small input was modified")
	}
}

func TestOptimizePassesUndecodableInputThrough(t *testing.T) {
	t.Parallel()

	junk := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 32<<10)
	o := New(0, 0)
	out, err := o.Optimize(junk)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if !bytes.Equal(out, junk) {
		t.Fatalf("undecodable input was modified")
	}
}

func TestFit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		w, h, max  int
		wantW, wantH int
	}{
		{1600, 1200, 1600, 1600, 1200},
		{3200, 2400, 1600, 1600, 1200},
		{2400, 3200, 1600, 1200, 1600},
		{100, 50, 1600, 100, 50},
		{4000, 1, 1600, 1600, 1},
	}

	for _, tc := range cases {
		w, h := fit(tc.w, tc.h, tc.max)
		if w != tc.wantW || h != tc.wantH {
			t.Fatalf("fit(%d,%d,%d)=(%d,%d) want=(%d,%d)", tc.w, tc.h, tc.max, w, h, tc.wantW, tc.wantH)
		}
	}
}
