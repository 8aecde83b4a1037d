// Package deck turns a PDF or an image folder into a playable lecture:
// fixed-size PNG slides plus a lecture.yaml manifest timed to the audio.
package deck

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/lecture3d/internal/lecture"
	"github.com/ivlev/lecture3d/internal/raster"
	"github.com/ivlev/lecture3d/internal/source"
	"github.com/ivlev/lecture3d/internal/system"
)

var ErrEmptyDeck = errors.New("deck has no pages")

const ManifestName = "lecture.yaml"

// ProbeFunc returns the duration of a local audio file in seconds.
type ProbeFunc func(ctx context.Context, path string) (float64, error)

type Options struct {
	Input  string
	Audio  string
	OutDir string
	// AssetRoot is the directory the player resolves "/..." URLs against.
	// Slide and audio URLs are written relative to it.
	AssetRoot string
	Title     string
	Width     int
	Height    int
	DPI       int
	Workers   int
	// PageDuration is used per slide when there is no audio.
	PageDuration float64
}

type Builder struct {
	Probe ProbeFunc
	Pool  *system.PixelPool
	opts  Options
	log   zerolog.Logger
}

func NewBuilder(opts Options, probe ProbeFunc, pool *system.PixelPool, log zerolog.Logger) *Builder {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}
	if opts.DPI <= 0 {
		opts.DPI = 150
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PageDuration <= 0 {
		opts.PageDuration = 5
	}
	if pool == nil {
		pool = system.DefaultPixelPool()
	}
	return &Builder{Probe: probe, Pool: pool, opts: opts, log: log}
}

type Result struct {
	Manifest string
	Lecture  *lecture.Lecture
	Pages    int
	Bytes    uint64
	Took     time.Duration
}

// Build rasterizes every page, then writes the manifest. Existing slide
// files in OutDir are overwritten.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	started := time.Now()

	src, err := source.Open(b.opts.Input)
	if err != nil {
		return nil, fmt.Errorf("open deck %s: %w", b.opts.Input, err)
	}
	defer src.Close()
	if is, ok := src.(*source.ImageSource); ok {
		is.CanvasWidth, is.CanvasHeight = b.opts.Width, b.opts.Height
	}

	pages := src.PageCount()
	if pages == 0 {
		return nil, ErrEmptyDeck
	}
	if err := os.MkdirAll(b.opts.OutDir, 0755); err != nil {
		return nil, err
	}

	total := float64(pages) * b.opts.PageDuration
	var audioURL string
	if b.opts.Audio != "" {
		if b.Probe == nil {
			return nil, fmt.Errorf("no probe for audio %s", b.opts.Audio)
		}
		d, err := b.Probe(ctx, b.opts.Audio)
		if err != nil {
			return nil, fmt.Errorf("audio duration: %w", err)
		}
		total = d
		audioURL = b.url(b.opts.Audio)
	}

	b.log.Info().
		Str("input", b.opts.Input).
		Int("pages", pages).
		Float64("duration", total).
		Int("workers", b.opts.Workers).
		Msg("building deck")

	names := make([]string, pages)
	var written atomic.Uint64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for i := 0; i < pages; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			name := fmt.Sprintf("slide_%03d.png", i+1)
			n, err := b.renderPage(src, i, filepath.Join(b.opts.OutDir, name))
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			names[i] = name
			written.Add(n)
			b.log.Debug().Int("page", i+1).Int("of", pages).Msg("slide ready")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	starts := lecture.DistributeStarts(pages, total)
	lec := &lecture.Lecture{
		Version:         "1.0",
		ID:              uuid.NewString(),
		Title:           b.title(),
		AudioURL:        audioURL,
		DurationSeconds: total,
		Slides:          make([]lecture.Slide, pages),
	}
	for i, name := range names {
		lec.Slides[i] = lecture.Slide{
			Image:     b.url(filepath.Join(b.opts.OutDir, name)),
			TimeStart: starts[i],
			Title:     fmt.Sprintf("Slide %d", i+1),
		}
	}

	manifest := filepath.Join(b.opts.OutDir, ManifestName)
	if err := lecture.Save(lec, manifest); err != nil {
		return nil, err
	}

	return &Result{
		Manifest: manifest,
		Lecture:  lec,
		Pages:    pages,
		Bytes:    written.Load(),
		Took:     time.Since(started),
	}, nil
}

// renderPage letterboxes one page onto a white canvas and writes it as PNG.
func (b *Builder) renderPage(src source.Source, index int, path string) (uint64, error) {
	img, err := src.RenderPage(index, b.opts.DPI)
	if err != nil {
		return 0, err
	}

	canvas := b.Pool.Get(image.Rect(0, 0, b.opts.Width, b.opts.Height))
	defer b.Pool.Put(canvas)
	raster.Fill(canvas, image.White)
	draw.CatmullRom.Scale(canvas, letterbox(canvas.Bounds(), img.Bounds()), img, img.Bounds(), draw.Over, nil)

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	if err := png.Encode(f, canvas); err != nil {
		f.Close()
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, err
	}
	return uint64(info.Size()), f.Close()
}

// letterbox returns the largest rect of src's aspect centered in dst.
func letterbox(dst, src image.Rectangle) image.Rectangle {
	dw, dh := dst.Dx(), dst.Dy()
	sw, sh := src.Dx(), src.Dy()
	if sw <= 0 || sh <= 0 {
		return dst
	}
	w, h := dw, sh*dw/sw
	if h > dh {
		w, h = sw*dh/sh, dh
	}
	x := dst.Min.X + (dw-w)/2
	y := dst.Min.Y + (dh-h)/2
	return image.Rect(x, y, x+w, y+h)
}

func (b *Builder) title() string {
	if b.opts.Title != "" {
		return b.opts.Title
	}
	base := filepath.Base(b.opts.Input)
	return strings.ReplaceAll(strings.TrimSuffix(base, filepath.Ext(base)), "_", " ")
}

// url maps a local file to the URL the player fetches. Files outside the
// asset root keep their absolute path.
func (b *Builder) url(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if b.opts.AssetRoot == "" {
		return filepath.ToSlash(abs)
	}
	root, err := filepath.Abs(b.opts.AssetRoot)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		b.log.Warn().Str("path", abs).Str("asset_root", root).Msg("file outside asset root, player may not find it")
		return filepath.ToSlash(abs)
	}
	return "/" + filepath.ToSlash(rel)
}
