package raster

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		kind Kind
		page int
	}{
		{"/slides/slide1.svg", KindSVG, 0},
		{"https://cdn.example.com/a/B.SVG?v=2", KindSVG, 0},
		{"/slides/slide1.png", KindRaster, 0},
		{"deck.pdf", KindPDF, 0},
		{"deck.pdf#page=3", KindPDF, 2},
		{"deck.pdf#page=zero", KindPDF, 0},
	}
	for _, tt := range tests {
		kind, page := Classify(tt.url)
		assert.Equal(t, tt.kind, kind, tt.url)
		assert.Equal(t, tt.page, page, tt.url)
	}
}

const slideSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1920 1080">
  <rect x="0" y="0" width="960" height="1080" fill="#ff0000"/>
  <text x="100" y="100">Title</text>
</svg>`

func TestRasterizeSVG(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 192, 108))
	require.NoError(t, RasterizeSVG(strings.NewReader(slideSVG), dst))

	left := dst.RGBAAt(40, 50)
	right := dst.RGBAAt(150, 50)
	assert.InDelta(t, 255, left.R, 2)
	assert.InDelta(t, 0, left.G, 2)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, right)
}

func TestRasterizeSVGRejectsGarbage(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 8, 8))
	assert.Error(t, RasterizeSVG(strings.NewReader("not xml at all <"), dst))
}

func TestRasterizeSVGRejectsNonSVGBodies(t *testing.T) {
	bodies := map[string]string{
		"empty":     "",
		"html":      "<!doctype html><html><head><title>App</title></head><body><div id=\"root\"></div></body></html>",
		"text":      "404 page not found",
		"empty svg": `<svg xmlns="http://www.w3.org/2000/svg"></svg>`,
	}
	for name, body := range bodies {
		dst := image.NewRGBA(image.Rect(0, 0, 8, 8))
		err := RasterizeSVG(strings.NewReader(body), dst)
		assert.ErrorIs(t, err, ErrNotSVG, name)
		assert.Equal(t, color.RGBA{}, dst.RGBAAt(4, 4), "%s: canvas must stay untouched", name)
	}
}

func TestRasterizeSVGAcceptsBlankCanvas(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 8, 8))
	require.NoError(t, RasterizeSVG(strings.NewReader(`<?xml version="1.0"?><svg viewBox="0 0 16 9"></svg>`), dst))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, dst.RGBAAt(4, 4))
}

// pngHeader is a PNG signature plus an IHDR chunk declaring w x h; enough
// for image.DecodeConfig.
func pngHeader(w, h uint32) []byte {
	var ihdr bytes.Buffer
	ihdr.WriteString("IHDR")
	binary.Write(&ihdr, binary.BigEndian, w)
	binary.Write(&ihdr, binary.BigEndian, h)
	ihdr.Write([]byte{8, 6, 0, 0, 0})

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(ihdr.Len()-4))
	buf.Write(ihdr.Bytes())
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(ihdr.Bytes()))
	return buf.Bytes()
}

func TestDecodeImageRejectsHugeDimensions(t *testing.T) {
	_, _, err := DecodeImage(pngHeader(60000, 60000), 0)
	assert.ErrorIs(t, err, ErrTooLarge)

	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	_, _, err = DecodeImage(buf.Bytes(), 8)
	assert.ErrorIs(t, err, ErrTooLarge)
	_, _, err = DecodeImage(buf.Bytes(), 16)
	assert.NoError(t, err)
}

func TestDecodeAndFit(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	Fill(src, color.RGBA{0, 0, 255, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, format, err := DecodeImage(buf.Bytes(), 0)
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	dst := image.NewRGBA(image.Rect(0, 0, 32, 18))
	Fit(dst, img)
	px := dst.RGBAAt(16, 9)
	assert.InDelta(t, 0, px.R, 2)
	assert.InDelta(t, 255, px.B, 2)

	_, _, err = DecodeImage([]byte("nope"), 0)
	assert.Error(t, err)
}

func TestMipmaps(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 16, 4))
	var allocs int
	levels := Mipmaps(base, func(r image.Rectangle) *image.RGBA {
		allocs++
		return image.NewRGBA(r)
	})

	sizes := make([]image.Point, len(levels))
	for i, l := range levels {
		sizes[i] = l.Bounds().Size()
	}
	assert.Equal(t, []image.Point{{8, 2}, {4, 1}, {2, 1}, {1, 1}}, sizes)
	assert.Equal(t, 4, allocs)
}
