package deck

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/lecture3d/internal/lecture"
	"github.com/ivlev/lecture3d/internal/system"
)

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func deckFixture(t *testing.T) (root, input string) {
	t.Helper()
	root = t.TempDir()
	input = filepath.Join(root, "incoming", "intro_to_optics")
	require.NoError(t, os.MkdirAll(input, 0755))
	writePNG(t, filepath.Join(input, "01.png"), 32, 18, color.RGBA{R: 255, A: 255})
	writePNG(t, filepath.Join(input, "02.png"), 18, 18, color.RGBA{G: 255, A: 255})
	writePNG(t, filepath.Join(input, "03.png"), 40, 10, color.RGBA{B: 255, A: 255})
	return root, input
}

func fixedProbe(d float64) ProbeFunc {
	return func(ctx context.Context, path string) (float64, error) {
		return d, nil
	}
}

func TestBuildWithAudio(t *testing.T) {
	root, input := deckFixture(t)
	audio := filepath.Join(root, "audio", "optics.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(audio), 0755))
	require.NoError(t, os.WriteFile(audio, []byte("id3"), 0644))

	pool := system.NewPixelPool()
	b := NewBuilder(Options{
		Input:     input,
		Audio:     audio,
		OutDir:    filepath.Join(root, "slides", "optics"),
		AssetRoot: root,
		Width:     64,
		Height:    36,
		Workers:   2,
	}, fixedProbe(30), pool, zerolog.Nop())

	res, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Positive(t, res.Bytes)
	assert.Zero(t, pool.Outstanding())

	lec, err := lecture.Load(res.Manifest)
	require.NoError(t, err)
	assert.Equal(t, "intro to optics", lec.Title)
	assert.Equal(t, "/audio/optics.mp3", lec.AudioURL)
	assert.InDelta(t, 30.0, lec.DurationSeconds, 1e-9)
	assert.NotEmpty(t, lec.ID)
	require.Len(t, lec.Slides, 3)
	assert.Equal(t, "/slides/optics/slide_001.png", lec.Slides[0].Image)
	assert.Equal(t, "/slides/optics/slide_003.png", lec.Slides[2].Image)
	assert.InDelta(t, 0.0, lec.Slides[0].TimeStart, 1e-9)
	assert.InDelta(t, 10.0, lec.Slides[1].TimeStart, 1e-9)
	assert.InDelta(t, 20.0, lec.Slides[2].TimeStart, 1e-9)
	require.NoError(t, lec.Validate())

	f, err := os.Open(filepath.Join(root, "slides", "optics", "slide_002.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(64, 36), img.Bounds().Size())

	// the square green page is pillarboxed: white edges, green middle
	r, g, bl, _ := img.At(2, 18).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, bl})
	r, g, bl, _ = img.At(32, 18).RGBA()
	assert.Less(t, r, uint32(0x200))
	assert.InDelta(t, 0xffff, g, 0x200)
	assert.Less(t, bl, uint32(0x200))
}

func TestBuildWithoutAudioUsesPageDuration(t *testing.T) {
	root, input := deckFixture(t)
	b := NewBuilder(Options{
		Input:        input,
		OutDir:       filepath.Join(root, "out"),
		AssetRoot:    root,
		Title:        "Optics",
		Width:        32,
		Height:       18,
		PageDuration: 4,
	}, nil, nil, zerolog.Nop())

	res, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Optics", res.Lecture.Title)
	assert.Empty(t, res.Lecture.AudioURL)
	assert.InDelta(t, 12.0, res.Lecture.DurationSeconds, 1e-9)
	assert.InDelta(t, 8.0, res.Lecture.Slides[2].TimeStart, 1e-9)
}

func TestBuildProbeFailure(t *testing.T) {
	root, input := deckFixture(t)
	boom := errors.New("ffprobe missing")
	b := NewBuilder(Options{
		Input:  input,
		Audio:  filepath.Join(root, "a.mp3"),
		OutDir: filepath.Join(root, "out"),
	}, func(ctx context.Context, path string) (float64, error) { return 0, boom }, nil, zerolog.Nop())

	_, err := b.Build(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestBuildEmptyDeck(t *testing.T) {
	root := t.TempDir()
	empty := filepath.Join(root, "empty")
	require.NoError(t, os.MkdirAll(empty, 0755))

	b := NewBuilder(Options{Input: empty, OutDir: filepath.Join(root, "out")}, nil, nil, zerolog.Nop())
	_, err := b.Build(context.Background())
	assert.ErrorIs(t, err, ErrEmptyDeck)
}

func TestLetterbox(t *testing.T) {
	dst := image.Rect(0, 0, 1920, 1080)

	assert.Equal(t, dst, letterbox(dst, image.Rect(0, 0, 1280, 720)))
	assert.Equal(t, image.Rect(420, 0, 1500, 1080), letterbox(dst, image.Rect(0, 0, 500, 500)))
	assert.Equal(t, image.Rect(0, 300, 1920, 780), letterbox(dst, image.Rect(0, 0, 400, 100)))
}

func TestURLOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	b := NewBuilder(Options{AssetRoot: root}, nil, nil, zerolog.Nop())

	assert.Equal(t, "/a/b.png", b.url(filepath.Join(root, "a", "b.png")))
	assert.Equal(t, filepath.ToSlash(filepath.Join(other, "x.png")), b.url(filepath.Join(other, "x.png")))
}
