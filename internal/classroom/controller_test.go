package classroom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/lecture3d/internal/animation"
	"github.com/ivlev/lecture3d/internal/bus"
	"github.com/ivlev/lecture3d/internal/eventloop"
	"github.com/ivlev/lecture3d/internal/playback"
	"github.com/ivlev/lecture3d/internal/scene"
	"github.com/ivlev/lecture3d/internal/system"
	"github.com/ivlev/lecture3d/internal/texture"
)

const (
	roomURL   = "/models/basic_classroom.glb"
	avatarURL = "/models/lecturer.glb"
)

func slideSVG(fill string) []byte {
	return []byte(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="64" height="36" viewBox="0 0 64 36"><rect width="64" height="36" fill="%s"/></svg>`, fill))
}

// gate blocks callers until opened.
type gate chan struct{}

func (g gate) open() { close(g) }

type fakeLoader struct {
	mu    sync.Mutex
	gates map[string]gate
	// block holds a load until its context is canceled.
	block map[string]bool
	fail  map[string]bool
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{gates: map[string]gate{}, block: map[string]bool{}, fail: map[string]bool{}}
}

func (l *fakeLoader) hold(url string) gate {
	g := make(gate)
	l.mu.Lock()
	l.gates[url] = g
	l.mu.Unlock()
	return g
}

func (l *fakeLoader) Load(ctx context.Context, url string) (*scene.Asset, error) {
	l.mu.Lock()
	g, block, fail := l.gates[url], l.block[url], l.fail[url]
	l.mu.Unlock()

	if g != nil {
		<-g
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, fmt.Errorf("%w: %s: 404", scene.ErrAssetLoad, url)
	}
	if url == avatarURL {
		return &scene.Asset{
			URL:  url,
			Root: scene.NewNode("lecturer.glb"),
			Clips: []animation.Clip{
				{Name: "Idle", Duration: 2},
				{Name: "Talking", Duration: 2},
				{Name: "Wave", Duration: 0.5},
			},
		}, nil
	}
	return &scene.Asset{URL: url, Root: scene.NewNode("classroom")}, nil
}

type fakeFetcher struct {
	mu     sync.Mutex
	data   map[string][]byte
	gates  map[string]gate
	counts map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		data: map[string][]byte{
			"/slides/a.svg": slideSVG("#ff0000"),
			"/slides/b.svg": slideSVG("#0000ff"),
		},
		gates:  map[string]gate{},
		counts: map[string]int{},
	}
}

func (f *fakeFetcher) hold(url string) gate {
	g := make(gate)
	f.mu.Lock()
	f.gates[url] = g
	f.mu.Unlock()
	return g
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.counts[url]++
	g := f.gates[url]
	data, ok := f.data[url]
	f.mu.Unlock()

	if g != nil {
		<-g
	}
	if !ok {
		return nil, errors.New("404")
	}
	return data, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

type events struct {
	mu   sync.Mutex
	seen []bus.Event
}

func (e *events) has(t bus.EventType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.seen {
		if ev.Type == t {
			return true
		}
	}
	return false
}

type fixture struct {
	t        *testing.T
	c        *Controller
	loader   *fakeLoader
	fetcher  *fakeFetcher
	pool     *system.PixelPool
	renderer *scene.Headless
	events   *events
	loaded   atomic.Int32
}

type fixtureOptions struct {
	timeout time.Duration
	media   playback.Media
	props   Props
	setup   func(*fixture)
}

func newFixture(t *testing.T, o fixtureOptions) *fixture {
	t.Helper()
	if o.timeout == 0 {
		o.timeout = 2 * time.Second
	}
	if o.media == nil {
		o.media = playback.FixedMedia{}
	}
	f := &fixture{
		t:        t,
		loader:   newFakeLoader(),
		fetcher:  newFakeFetcher(),
		pool:     system.NewPixelPool(),
		renderer: scene.NewHeadless(0, 0),
		events:   &events{},
	}
	if o.setup != nil {
		o.setup(f)
	}

	b := bus.NewEventBus()
	b.SubscribeAll(func(ev bus.Event) {
		f.events.mu.Lock()
		f.events.seen = append(f.events.seen, ev)
		f.events.mu.Unlock()
	})

	pipeline := texture.NewPipeline(f.fetcher, f.pool, texture.Options{
		Width:             64,
		Height:            36,
		WhiteboardTimeout: o.timeout,
	}, zerolog.Nop())

	props := o.props
	props.OnLoaded = func() { f.loaded.Add(1) }

	c, err := Mount(Deps{
		Renderer: f.renderer,
		Loader:   f.loader,
		Slides:   pipeline,
		Media:    o.media,
		Bus:      b,
	}, Options{
		RoomAsset:          roomURL,
		AvatarAsset:        avatarURL,
		Width:              640,
		Height:             360,
		FPS:                60,
		Animation:          animation.Options{CrossFade: 300 * time.Millisecond},
		TimeUpdateInterval: 5 * time.Millisecond,
		ManualFrames:       true,
	}, props, zerolog.Nop())
	require.NoError(t, err)
	f.c = c
	t.Cleanup(func() { _ = c.Close() })
	return f
}

func (f *fixture) status() Status {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := f.c.Status(ctx)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) eventually(cond func() bool, msg string) {
	f.t.Helper()
	require.Eventually(f.t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func (f *fixture) waitAvatar() {
	f.t.Helper()
	f.eventually(func() bool { return f.status().AvatarLoaded }, "avatar never loaded")
}

func (f *fixture) waitSlide(url string) {
	f.t.Helper()
	f.eventually(func() bool { return f.status().Slide == url }, "slide "+url+" never applied")
}

var slides = []string{"/slides/a.svg", "/slides/b.svg"}

func TestMountLoadsSceneAndStartsIdle(t *testing.T) {
	f := newFixture(t, fixtureOptions{props: Props{Slides: slides}})

	f.waitAvatar()
	f.waitSlide("/slides/a.svg")

	s := f.status()
	assert.True(t, s.RoomLoaded)
	assert.Equal(t, "Idle", s.Clip)
	assert.False(t, s.Speaking)
	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, int32(1), f.loaded.Load())

	f.eventually(func() bool { return f.events.has(bus.EventTypeTextureApplied) }, "no texture.applied event")
}

func TestSameSlideIsNotRefetched(t *testing.T) {
	f := newFixture(t, fixtureOptions{props: Props{Slides: slides}})
	f.waitSlide("/slides/a.svg")

	require.NoError(t, f.c.Update(Props{Slides: slides, CurrentSlide: 0}))
	require.NoError(t, f.c.Update(Props{Slides: slides, CurrentSlide: 0, IsPlaying: true}))
	require.NoError(t, f.c.Sync(context.Background()))
	assert.Equal(t, 1, f.fetcher.count("/slides/a.svg"))

	require.NoError(t, f.c.Update(Props{Slides: slides, CurrentSlide: 1}))
	f.waitSlide("/slides/b.svg")
	assert.Equal(t, 1, f.fetcher.count("/slides/b.svg"))

	// the replaced slide went back to the pool
	assert.Equal(t, int64(1), f.pool.Outstanding())
}

func TestOutOfRangeSlideIgnored(t *testing.T) {
	f := newFixture(t, fixtureOptions{props: Props{Slides: slides}})
	f.waitSlide("/slides/a.svg")

	require.NoError(t, f.c.Update(Props{Slides: slides, CurrentSlide: 7}))
	require.NoError(t, f.c.Update(Props{Slides: slides, CurrentSlide: -1}))
	require.NoError(t, f.c.Sync(context.Background()))
	assert.Equal(t, "/slides/a.svg", f.status().Slide)
}

func TestStaleSlideIsDisposed(t *testing.T) {
	var slow gate
	f := newFixture(t, fixtureOptions{
		props: Props{Slides: slides},
		setup: func(f *fixture) { slow = f.fetcher.hold("/slides/a.svg") },
	})

	require.NoError(t, f.c.Update(Props{Slides: slides, CurrentSlide: 1}))
	f.waitSlide("/slides/b.svg")

	slow.open()
	f.eventually(func() bool { return f.pool.Outstanding() == 1 }, "stale texture not released")
	assert.Equal(t, "/slides/b.svg", f.status().Slide)
}

func TestUndecodableSlideKeepsPreviousTexture(t *testing.T) {
	deck := []string{"/slides/a.svg", "/slides/fallback.svg"}
	f := newFixture(t, fixtureOptions{
		props: Props{Slides: deck},
		setup: func(f *fixture) {
			f.fetcher.data["/slides/fallback.svg"] = []byte("<!doctype html><html><body>app shell</body></html>")
		},
	})
	f.waitSlide("/slides/a.svg")

	require.NoError(t, f.c.Update(Props{Slides: deck, CurrentSlide: 1}))
	f.eventually(func() bool { return f.events.has(bus.EventTypeTextureFailed) }, "no texture.failed event")

	assert.Equal(t, "/slides/a.svg", f.status().Slide)
	assert.Equal(t, int64(1), f.pool.Outstanding())
}

func TestIsPlayingDrivesAvatarWithoutAudio(t *testing.T) {
	f := newFixture(t, fixtureOptions{props: Props{Slides: slides}})
	f.waitAvatar()

	require.NoError(t, f.c.Update(Props{Slides: slides, IsPlaying: true}))
	s := f.status()
	assert.True(t, s.Speaking)
	assert.Equal(t, "Talking", s.Clip)

	require.NoError(t, f.c.Update(Props{Slides: slides, IsPlaying: true}))
	require.NoError(t, f.c.Update(Props{Slides: slides}))
	s = f.status()
	assert.False(t, s.Speaking)
	assert.Equal(t, "Idle", s.Clip)

	f.eventually(func() bool { return f.events.has(bus.EventTypeSpeakingStopped) }, "no speaking_stopped event")
}

func TestSpeakingBeforeAvatarLoads(t *testing.T) {
	var avatar gate
	f := newFixture(t, fixtureOptions{
		props: Props{Slides: slides, IsPlaying: true},
		setup: func(f *fixture) { avatar = f.loader.hold(avatarURL) },
	})
	f.eventually(func() bool { return f.status().Speaking }, "speaking not recorded")
	assert.Empty(t, f.status().Clip)

	avatar.open()
	f.waitAvatar()
	assert.Equal(t, "Talking", f.status().Clip)
}

func TestAudioFilesDriveSpeakingAndCompletion(t *testing.T) {
	completed := make(chan int, 4)
	media := playback.FixedMedia{Durations: map[string]float64{
		"/audio/1.mp3": 0.05,
		"/audio/2.mp3": 30,
	}}
	f := newFixture(t, fixtureOptions{media: media})
	f.waitAvatar()

	c := f.c
	var props Props
	props = Props{
		Slides:     slides,
		AudioFiles: []string{"/audio/1.mp3", "/audio/2.mp3"},
		IsPlaying:  true,
		OnSlideComplete: func() {
			completed <- props.CurrentSlide
			next := props
			next.CurrentSlide++
			props = next
			_ = c.Update(next)
		},
	}
	require.NoError(t, c.Update(props))

	select {
	case idx := <-completed:
		assert.Equal(t, 0, idx)
	case <-time.After(2 * time.Second):
		t.Fatal("slide audio never completed")
	}

	f.eventually(func() bool {
		s := f.status()
		return s.Audio.Source == "/audio/2.mp3" && s.Audio.IsPlaying
	}, "second track did not start by itself")
	f.waitSlide("/slides/b.svg")

	s := f.status()
	assert.True(t, s.Speaking)
	assert.Equal(t, "Talking", s.Clip)
	assert.True(t, f.events.has(bus.EventTypeAudioEnded))
}

func TestAudioPauseSilencesAvatar(t *testing.T) {
	media := playback.FixedMedia{Durations: map[string]float64{"/audio/1.mp3": 30}}
	f := newFixture(t, fixtureOptions{media: media})
	f.waitAvatar()

	props := Props{Slides: slides, AudioFiles: []string{"/audio/1.mp3"}, IsPlaying: true}
	require.NoError(t, f.c.Update(props))
	f.eventually(func() bool { return f.status().Speaking }, "audio never started")

	props.IsPlaying = false
	require.NoError(t, f.c.Update(props))
	s := f.status()
	assert.False(t, s.Speaking)
	assert.False(t, s.Audio.IsPlaying)
	assert.Equal(t, "Idle", s.Clip)
}

func TestMissingAudioDoesNotLeaveAvatarSpeaking(t *testing.T) {
	f := newFixture(t, fixtureOptions{media: playback.FixedMedia{}})
	f.waitAvatar()

	require.NoError(t, f.c.Update(Props{Slides: slides, AudioFiles: []string{"/audio/missing.mp3"}, IsPlaying: true}))
	f.eventually(func() bool { return f.events.has(bus.EventTypeAudioFailed) }, "no audio.failed event")
	assert.False(t, f.status().Speaking)
}

func TestWhiteboardNeverReady(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		timeout: 30 * time.Millisecond,
		props:   Props{Slides: slides},
		setup:   func(f *fixture) { f.loader.block[roomURL] = true },
	})

	f.eventually(func() bool { return f.events.has(bus.EventTypeTextureFailed) }, "slide request never gave up")
	assert.Empty(t, f.status().Slide)
	assert.Zero(t, f.fetcher.count("/slides/a.svg"))
	assert.Zero(t, f.pool.Outstanding())
}

func TestRoomFailureStopsWaitingForWhiteboard(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		timeout: time.Hour,
		props:   Props{Slides: slides},
		setup:   func(f *fixture) { f.loader.fail[roomURL] = true },
	})

	f.eventually(func() bool { return f.events.has(bus.EventTypeTextureFailed) }, "slide kept waiting for a room that failed")
	assert.True(t, f.events.has(bus.EventTypeAssetFailed))
	assert.False(t, f.status().RoomLoaded)

	// the avatar still loads
	f.waitAvatar()
}

func TestCloseWhileLoadsInFlight(t *testing.T) {
	var room, avatar, slide gate
	f := newFixture(t, fixtureOptions{
		props: Props{Slides: slides},
		setup: func(f *fixture) {
			room = f.loader.hold(roomURL)
			avatar = f.loader.hold(avatarURL)
			slide = f.fetcher.hold("/slides/a.svg")
		},
	})
	require.NoError(t, f.c.Sync(context.Background()))

	require.NoError(t, f.c.Close())
	require.NoError(t, f.c.Close())

	room.open()
	avatar.open()
	slide.open()

	// give the late completions time to run
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.loaded.Load(), "OnLoaded after teardown")
	assert.Zero(t, f.pool.Outstanding())
	assert.True(t, f.renderer.Last().Disposed)

	assert.ErrorIs(t, f.c.Update(Props{}), eventloop.ErrClosed)
	_, err := f.c.Status(context.Background())
	assert.ErrorIs(t, err, eventloop.ErrClosed)
}

func TestCloseReleasesWhiteboard(t *testing.T) {
	f := newFixture(t, fixtureOptions{props: Props{Slides: slides}})
	f.waitSlide("/slides/a.svg")
	require.Equal(t, int64(1), f.pool.Outstanding())

	require.NoError(t, f.c.Close())
	assert.Zero(t, f.pool.Outstanding())
	f.eventually(func() bool { return f.events.has(bus.EventTypeSceneDisposed) }, "no scene.disposed event")
}

func TestCuePlaysOnceAndReturns(t *testing.T) {
	f := newFixture(t, fixtureOptions{props: Props{Slides: slides}})
	f.waitAvatar()

	require.NoError(t, f.c.Cue("Wave"))
	assert.Equal(t, "Wave", f.status().Clip)

	require.NoError(t, f.c.Cue("Dance"))
	assert.Equal(t, "Wave", f.status().Clip, "unknown clips are skipped")

	for i := 0; i < 10; i++ {
		require.NoError(t, f.c.Frame(0.1))
	}
	assert.Equal(t, "Idle", f.status().Clip)
	assert.NotZero(t, f.renderer.Frames())
}

func TestMountRequiresCollaborators(t *testing.T) {
	_, err := Mount(Deps{}, Options{}, Props{}, zerolog.Nop())
	assert.Error(t, err)
}
