package texture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/lecture3d/internal/config"
	"github.com/ivlev/lecture3d/internal/metrics"
	"github.com/ivlev/lecture3d/internal/raster"
	"github.com/ivlev/lecture3d/internal/source"
	"github.com/ivlev/lecture3d/internal/system"
)

var (
	ErrWhiteboardNotReady = errors.New("whiteboard not ready")
	ErrFetch              = errors.New("slide fetch failed")
	ErrDecode             = errors.New("slide decode failed")
)

// Waiter blocks until the whiteboard exists or can never exist.
type Waiter interface {
	Wait(ctx context.Context) error
}

type Options struct {
	Width             int
	Height            int
	Anisotropy        int
	Mipmaps           bool
	WhiteboardTimeout time.Duration
	PDFDPI            int
	MaxPixels         int
}

func OptionsFromConfig(c config.SlidesConfig) Options {
	return Options{
		Width:             c.Width,
		Height:            c.Height,
		Anisotropy:        c.Anisotropy,
		Mipmaps:           c.Mipmaps,
		WhiteboardTimeout: c.WhiteboardTimeout,
		PDFDPI:            c.PDFDPI,
		MaxPixels:         c.MaxPixels,
	}
}

// Pipeline turns slide URLs into whiteboard textures.
type Pipeline struct {
	fetcher source.Fetcher
	pool    *system.PixelPool
	opts    Options
	log     zerolog.Logger
}

func NewPipeline(fetcher source.Fetcher, pool *system.PixelPool, opts Options, log zerolog.Logger) *Pipeline {
	if pool == nil {
		pool = system.DefaultPixelPool()
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}
	if opts.WhiteboardTimeout <= 0 {
		opts.WhiteboardTimeout = 5 * time.Second
	}
	if opts.PDFDPI <= 0 {
		opts.PDFDPI = 150
	}
	return &Pipeline{fetcher: fetcher, pool: pool, opts: opts, log: log}
}

// Prepare waits for the whiteboard, then fetches and rasterizes url onto
// the fixed canvas. The caller owns the returned texture.
func (p *Pipeline) Prepare(ctx context.Context, ready Waiter, url string) (tex *Texture, err error) {
	kind, page := raster.Classify(url)
	started := time.Now()
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, ErrWhiteboardNotReady):
			result = "not_ready"
		case errors.Is(err, ErrFetch):
			result = "fetch_error"
		case errors.Is(err, ErrDecode):
			result = "decode_error"
		case err != nil:
			result = "canceled"
		}
		metrics.SlideTextures.WithLabelValues(kind.String(), result).Inc()
		if err == nil {
			metrics.SlidePrepareDuration.WithLabelValues(kind.String()).Observe(time.Since(started).Seconds())
		}
	}()

	if err := p.waitReady(ctx, ready); err != nil {
		return nil, err
	}

	data, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}

	base := p.pool.Get(image.Rect(0, 0, p.opts.Width, p.opts.Height))
	if err := p.draw(base, kind, page, data); err != nil {
		p.pool.Put(base)
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, url, err)
	}
	if err := ctx.Err(); err != nil {
		p.pool.Put(base)
		return nil, err
	}

	tex = New(url, base, p.pool)
	tex.Anisotropy = p.opts.Anisotropy
	if p.opts.Mipmaps {
		tex.Mipmaps = raster.Mipmaps(base, p.pool.Get)
		tex.MinFilter = FilterLinearMipmapLinear
	}

	p.log.Debug().
		Str("url", url).
		Str("kind", kind.String()).
		Int("mip_levels", len(tex.Mipmaps)).
		Dur("took", time.Since(started)).
		Msg("slide texture ready")
	return tex, nil
}

func (p *Pipeline) waitReady(ctx context.Context, ready Waiter) error {
	if ready == nil {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.opts.WhiteboardTimeout)
	defer cancel()

	err := ready.Wait(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrWhiteboardNotReady, p.opts.WhiteboardTimeout)
	}
	return fmt.Errorf("%w: %v", ErrWhiteboardNotReady, err)
}

func (p *Pipeline) draw(dst *image.RGBA, kind raster.Kind, page int, data []byte) error {
	switch kind {
	case raster.KindSVG:
		return raster.RasterizeSVG(bytes.NewReader(data), dst)
	case raster.KindPDF:
		img, err := source.RenderPDFPage(data, page, p.opts.PDFDPI)
		if err != nil {
			return err
		}
		raster.Fit(dst, img)
		return nil
	default:
		img, _, err := raster.DecodeImage(data, p.opts.MaxPixels)
		if err != nil {
			return err
		}
		raster.Fit(dst, img)
		return nil
	}
}
