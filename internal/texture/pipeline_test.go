package texture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/lecture3d/internal/metrics"
	"github.com/ivlev/lecture3d/internal/source"
	"github.com/ivlev/lecture3d/internal/system"
)

const svg = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1920 1080"><rect width="1920" height="1080" fill="#102030"/></svg>`

type waiterFunc func(ctx context.Context) error

func (f waiterFunc) Wait(ctx context.Context) error { return f(ctx) }

var readyNow = waiterFunc(func(context.Context) error { return nil })

var neverReady = waiterFunc(func(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
})

type fakeFetcher struct {
	calls atomic.Int32
	data  map[string][]byte
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	d, ok := f.data[url]
	if !ok {
		return nil, source.ErrNotFound
	}
	return d, nil
}

func pngBytes(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, f source.Fetcher, pool *system.PixelPool) *Pipeline {
	return NewPipeline(f, pool, Options{
		Width: 64, Height: 36, Anisotropy: 16, Mipmaps: true,
		WhiteboardTimeout: 30 * time.Millisecond,
	}, zerolog.Nop())
}

func TestPrepareSVG(t *testing.T) {
	pool := system.NewPixelPool()
	f := &fakeFetcher{data: map[string][]byte{"/slides/a.svg": []byte(svg)}}
	p := newTestPipeline(t, f, pool)

	live := testutil.ToFloat64(metrics.LiveTextures)
	ok := testutil.ToFloat64(metrics.SlideTextures.WithLabelValues("svg", "ok"))

	tex, err := p.Prepare(context.Background(), readyNow, "/slides/a.svg")
	require.NoError(t, err)

	assert.Equal(t, image.Pt(64, 36), tex.Size())
	assert.Equal(t, ColorSpaceSRGB, tex.ColorSpace)
	assert.Equal(t, 16, tex.Anisotropy)
	assert.Equal(t, FilterLinearMipmapLinear, tex.MinFilter)
	assert.Equal(t, FilterLinear, tex.MagFilter)
	assert.NotEmpty(t, tex.Mipmaps)
	px := tex.Image.RGBAAt(10, 10)
	assert.InDelta(t, 0x10, px.R, 2)
	assert.InDelta(t, 0x20, px.G, 2)
	assert.InDelta(t, 0x30, px.B, 2)
	assert.Equal(t, int64(1+len(tex.Mipmaps)), pool.Outstanding())
	assert.Equal(t, live+1, testutil.ToFloat64(metrics.LiveTextures))
	assert.Equal(t, ok+1, testutil.ToFloat64(metrics.SlideTextures.WithLabelValues("svg", "ok")))

	tex.Dispose()
	tex.Dispose()
	assert.True(t, tex.Disposed())
	assert.Zero(t, pool.Outstanding())
	assert.Equal(t, live, testutil.ToFloat64(metrics.LiveTextures))
}

func TestPrepareRaster(t *testing.T) {
	pool := system.NewPixelPool()
	f := &fakeFetcher{data: map[string][]byte{"/slides/a.png": pngBytes(t)}}
	p := NewPipeline(f, pool, Options{Width: 16, Height: 9}, zerolog.Nop())

	tex, err := p.Prepare(context.Background(), nil, "/slides/a.png")
	require.NoError(t, err)
	defer tex.Dispose()

	assert.Empty(t, tex.Mipmaps)
	assert.Equal(t, FilterLinear, tex.MinFilter)
	assert.Equal(t, uint8(200), tex.Image.RGBAAt(8, 4).R)
}

// The whiteboard never appears: the request gives up after the bounded
// wait without fetching anything.
func TestPrepareWhiteboardTimeout(t *testing.T) {
	f := &fakeFetcher{data: map[string][]byte{"/slides/a.svg": []byte(svg)}}
	p := newTestPipeline(t, f, system.NewPixelPool())
	before := testutil.ToFloat64(metrics.SlideTextures.WithLabelValues("svg", "not_ready"))

	started := time.Now()
	tex, err := p.Prepare(context.Background(), neverReady, "/slides/a.svg")

	assert.Nil(t, tex)
	assert.ErrorIs(t, err, ErrWhiteboardNotReady)
	assert.Less(t, time.Since(started), time.Second)
	assert.Zero(t, f.calls.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SlideTextures.WithLabelValues("svg", "not_ready")))
}

func TestPrepareWhiteboardFailed(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, system.NewPixelPool())
	failed := waiterFunc(func(context.Context) error { return errors.New("room failed to load") })

	_, err := p.Prepare(context.Background(), failed, "/slides/a.svg")
	assert.ErrorIs(t, err, ErrWhiteboardNotReady)
	assert.Contains(t, err.Error(), "room failed to load")
}

func TestPrepareCanceled(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, system.NewPixelPool())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Prepare(ctx, neverReady, "/slides/a.svg")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrWhiteboardNotReady)
}

func TestPrepareFetchAndDecodeErrors(t *testing.T) {
	pool := system.NewPixelPool()
	f := &fakeFetcher{data: map[string][]byte{
		"/slides/bad.png": []byte("garbage"),
		"/slides/bad.svg": []byte("<svg"),
	}}
	p := newTestPipeline(t, f, pool)
	ctx := context.Background()

	_, err := p.Prepare(ctx, readyNow, "/slides/missing.svg")
	assert.ErrorIs(t, err, ErrFetch)

	_, err = p.Prepare(ctx, readyNow, "/slides/bad.png")
	assert.ErrorIs(t, err, ErrDecode)

	_, err = p.Prepare(ctx, readyNow, "/slides/bad.svg")
	assert.ErrorIs(t, err, ErrDecode)

	assert.Zero(t, pool.Outstanding())
}

func TestPrepareRejectsNonSVGBodies(t *testing.T) {
	pool := system.NewPixelPool()
	f := &fakeFetcher{data: map[string][]byte{
		"/slides/empty.svg": {},
		"/slides/html.svg":  []byte("<!doctype html><html><body><div id=\"app\"></div></body></html>"),
		"/slides/text.svg":  []byte("404 page not found"),
	}}
	p := newTestPipeline(t, f, pool)

	before := testutil.ToFloat64(metrics.SlideTextures.WithLabelValues("svg", "decode_error"))
	for url := range f.data {
		tex, err := p.Prepare(context.Background(), readyNow, url)
		assert.ErrorIs(t, err, ErrDecode, url)
		assert.Nil(t, tex, url)
	}
	assert.Equal(t, before+3, testutil.ToFloat64(metrics.SlideTextures.WithLabelValues("svg", "decode_error")))
	assert.Zero(t, pool.Outstanding())
}

func TestPrepareRejectsOversizedImage(t *testing.T) {
	pool := system.NewPixelPool()
	f := &fakeFetcher{data: map[string][]byte{"/slides/big.png": pngBytes(t)}}
	p := NewPipeline(f, pool, Options{Width: 64, Height: 36, MaxPixels: 32}, zerolog.Nop())

	_, err := p.Prepare(context.Background(), readyNow, "/slides/big.png")
	assert.ErrorIs(t, err, ErrDecode)
	assert.Zero(t, pool.Outstanding())
}
