// Package raster turns slide bytes (SVG markup or encoded images) into
// fixed-size RGBA canvases and their mipmap chains.
package raster

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	// ErrNotSVG is returned for bodies without an <svg> root element or
	// with nothing oksvg can draw.
	ErrNotSVG = errors.New("not an svg document")
	// ErrTooLarge is returned for images whose declared size exceeds the
	// decode limit.
	ErrTooLarge = errors.New("image too large")
)

// DefaultMaxPixels caps decoded image area (64 megapixels).
const DefaultMaxPixels = 64 << 20

// Kind is the decoding route for a slide URL.
type Kind int

const (
	KindRaster Kind = iota
	KindSVG
	KindPDF
)

func (k Kind) String() string {
	switch k {
	case KindSVG:
		return "svg"
	case KindPDF:
		return "pdf"
	default:
		return "raster"
	}
}

// Classify picks the route by the URL's path suffix. For "deck.pdf#page=3"
// it also returns the zero-based page (2); a PDF without a page fragment
// means page 0.
func Classify(rawURL string) (Kind, int) {
	p := rawURL
	fragment := ""
	if u, err := url.Parse(rawURL); err == nil {
		p, fragment = u.Path, u.Fragment
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".svg":
		return KindSVG, 0
	case ".pdf":
		page := 0
		if v, ok := strings.CutPrefix(fragment, "page="); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				page = n - 1
			}
		}
		return KindPDF, page
	default:
		return KindRaster, 0
	}
}

// RasterizeSVG draws SVG markup stretched over the whole of dst, on a white
// background. Elements oksvg cannot render (text among them) are skipped.
// dst is left untouched when the body is not an SVG document.
func RasterizeSVG(r io.Reader, dst *image.RGBA) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read svg: %w", err)
	}
	if err := checkSVGRoot(data); err != nil {
		return err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return fmt.Errorf("parse svg: %w", err)
	}
	if len(icon.SVGPaths) == 0 && (icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0) {
		return fmt.Errorf("%w: empty drawing", ErrNotSVG)
	}

	b := dst.Bounds()
	w, h := b.Dx(), b.Dy()
	Fill(dst, color.White)

	icon.SetTarget(float64(b.Min.X), float64(b.Min.Y), float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, dst, b)
	dasher := rasterx.NewDasher(w, h, scanner)
	icon.Draw(dasher, 1.0)
	return nil
}

// checkSVGRoot requires the first element of data to be <svg>.
func checkSVGRoot(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	// only the root element name is read; any declared charset passes through
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: no root element", ErrNotSVG)
			}
			return fmt.Errorf("%w: %v", ErrNotSVG, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != "svg" {
				return fmt.Errorf("%w: root element <%s>", ErrNotSVG, se.Name.Local)
			}
			return nil
		}
	}
}

// DecodeImage decodes png, jpeg, gif, webp or bmp bytes, rejecting images
// larger than maxPixels before allocating them. maxPixels <= 0 means
// DefaultMaxPixels.
func DecodeImage(data []byte, maxPixels int) (image.Image, string, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxPixels/cfg.Height {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Fit stretches src over dst with Catmull-Rom smoothing.
func Fit(dst *image.RGBA, src image.Image) {
	Fill(dst, color.White)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
}

func Fill(dst *image.RGBA, c color.Color) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// Alloc returns an RGBA buffer for rect; pools plug in here.
type Alloc func(rect image.Rectangle) *image.RGBA

// Mipmaps builds the chain below base, halving each level down to 1x1.
// base itself is not included.
func Mipmaps(base *image.RGBA, alloc Alloc) []*image.RGBA {
	if alloc == nil {
		alloc = image.NewRGBA
	}
	var levels []*image.RGBA
	prev := base
	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	for w > 1 || h > 1 {
		w, h = max(w/2, 1), max(h/2, 1)
		level := alloc(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(level, level.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		levels = append(levels, level)
		prev = level
	}
	return levels
}
