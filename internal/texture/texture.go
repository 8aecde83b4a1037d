// Package texture prepares whiteboard slide textures.
package texture

import (
	"image"
	"sync/atomic"

	"github.com/ivlev/lecture3d/internal/metrics"
	"github.com/ivlev/lecture3d/internal/system"
)

type ColorSpace string

const (
	ColorSpaceSRGB   ColorSpace = "srgb"
	ColorSpaceLinear ColorSpace = "linear"
)

type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
	FilterLinearMipmapLinear
)

func (f Filter) String() string {
	switch f {
	case FilterLinear:
		return "linear"
	case FilterLinearMipmapLinear:
		return "linear_mipmap_linear"
	default:
		return "nearest"
	}
}

// Texture is a displayable slide image with its sampling state. Pixel
// buffers belong to the pool until Dispose hands them back.
type Texture struct {
	URL        string
	Image      *image.RGBA
	Mipmaps    []*image.RGBA
	ColorSpace ColorSpace
	Anisotropy int
	MinFilter  Filter
	MagFilter  Filter

	pool     *system.PixelPool
	disposed atomic.Bool
}

// New wraps base as an sRGB texture. When pool is non-nil, Dispose returns
// base and any mipmaps to it.
func New(url string, base *image.RGBA, pool *system.PixelPool) *Texture {
	metrics.LiveTextures.Inc()
	return &Texture{
		URL:        url,
		Image:      base,
		ColorSpace: ColorSpaceSRGB,
		MinFilter:  FilterLinear,
		MagFilter:  FilterLinear,
		pool:       pool,
	}
}

// Dispose returns the pixel buffers to the pool. Safe to call repeatedly
// and on a nil texture.
func (t *Texture) Dispose() {
	if t == nil || !t.disposed.CompareAndSwap(false, true) {
		return
	}
	if t.pool != nil {
		t.pool.Put(t.Image)
		for _, m := range t.Mipmaps {
			t.pool.Put(m)
		}
	}
	t.Image = nil
	t.Mipmaps = nil
	metrics.LiveTextures.Dec()
}

func (t *Texture) Disposed() bool {
	return t.disposed.Load()
}

// Size returns the base level dimensions.
func (t *Texture) Size() image.Point {
	if t.Image == nil {
		return image.Point{}
	}
	return t.Image.Bounds().Size()
}
