// Package classroom keeps the avatar's animation and the whiteboard slide
// in step with playback. The host pushes Props; the controller reacts with
// texture swaps and cross-fades on its own event loop.
package classroom

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/lecture3d/internal/animation"
	"github.com/ivlev/lecture3d/internal/bus"
	"github.com/ivlev/lecture3d/internal/config"
	"github.com/ivlev/lecture3d/internal/eventloop"
	"github.com/ivlev/lecture3d/internal/logging"
	"github.com/ivlev/lecture3d/internal/playback"
	"github.com/ivlev/lecture3d/internal/scene"
	"github.com/ivlev/lecture3d/internal/texture"
)

// Props are the host's inputs. Callbacks run on the controller's loop and
// must not block on it.
type Props struct {
	IsPlaying    bool
	CurrentSlide int
	Slides       []string
	// AudioFiles holds one track per slide. When set, the controller owns
	// playback and the avatar speaks while the track plays; otherwise
	// IsPlaying drives the avatar directly.
	AudioFiles      []string
	OnLoaded        func()
	OnSlideComplete func()
	// OnTimeUpdate reports the slide track position while it plays.
	OnTimeUpdate func(t, duration float64)
}

// SlidePreparer turns a slide URL into a texture once the whiteboard is
// ready.
type SlidePreparer interface {
	Prepare(ctx context.Context, ready texture.Waiter, url string) (*texture.Texture, error)
}

// Deps are the collaborators a controller drives. Bus may be nil.
type Deps struct {
	Renderer scene.Renderer
	Loader   scene.AssetLoader
	Slides   SlidePreparer
	Media    playback.Media
	Bus      *bus.EventBus
}

type Options struct {
	RoomAsset          string
	AvatarAsset        string
	Width              int
	Height             int
	FPS                int
	Animation          animation.Options
	TimeUpdateInterval time.Duration
	// ManualFrames disables the frame clock; frames run only via Frame.
	ManualFrames bool
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RoomAsset:          cfg.Scene.RoomAsset,
		AvatarAsset:        cfg.Scene.AvatarAsset,
		Width:              cfg.Scene.Width,
		Height:             cfg.Scene.Height,
		FPS:                cfg.Scene.FPS,
		Animation:          animation.Options{CrossFade: cfg.Animation.CrossFade, Roles: cfg.Animation.Roles},
		TimeUpdateInterval: cfg.Audio.TimeUpdateInterval,
	}
}

// Status is a snapshot for observers.
type Status struct {
	SessionID    string         `json:"session_id"`
	Slide        string         `json:"slide"`
	CurrentSlide int            `json:"current_slide"`
	IsPlaying    bool           `json:"is_playing"`
	Speaking     bool           `json:"speaking"`
	Clip         string         `json:"clip"`
	AvatarLoaded bool           `json:"avatar_loaded"`
	RoomLoaded   bool           `json:"room_loaded"`
	Audio        playback.State `json:"audio"`
}

// Controller is the presentation synchronization controller. Its state
// lives on one event loop; exported methods post to it and are safe to
// call from any goroutine.
type Controller struct {
	loop    *eventloop.Loop
	session *scene.Session
	clock   *playback.Clock
	slides  SlidePreparer
	loader  scene.AssetLoader
	bus     *bus.EventBus
	opts    Options
	log     zerolog.Logger

	props        Props
	mounted      bool
	slideURL     string
	slideGen     uint64
	speaking     bool
	roomLoaded   bool
	avatarLoaded bool

	closeOnce sync.Once
	closeErr  error
}

// Mount builds the scene, starts the asset loads and the frame clock, and
// applies the initial props.
func Mount(deps Deps, opts Options, props Props, log zerolog.Logger) (*Controller, error) {
	if deps.Renderer == nil || deps.Loader == nil || deps.Slides == nil || deps.Media == nil {
		return nil, errors.New("classroom: renderer, loader, slides and media are required")
	}
	log = logging.Component(log, "classroom")
	loop := eventloop.New(log).Start()

	c := &Controller{
		loop:   loop,
		slides: deps.Slides,
		loader: deps.Loader,
		bus:    deps.Bus,
		opts:   opts,
		log:    log,
	}
	c.session = scene.Create(deps.Renderer, scene.Options{
		Width:     opts.Width,
		Height:    opts.Height,
		FPS:       opts.FPS,
		Animation: opts.Animation,
	}, log)
	c.clock = playback.NewClock(deps.Media, loop.Post, playback.Options{
		TimeUpdateInterval: opts.TimeUpdateInterval,
	}, logging.Component(log, "audio"))

	c.session.Avatar.OnChange(func(clip string, state animation.State) {
		c.publish(bus.EventTypeAvatarAnimation, map[string]any{"clip": clip, "state": state.String()})
	})
	c.clock.OnPlay(c.audioPlayed)
	c.clock.OnPause(c.audioPaused)
	c.clock.OnEnded(c.audioEnded)
	c.clock.OnTimeUpdate(func(t float64) {
		c.publish(bus.EventTypeTimeUpdate, map[string]any{"time": t, "slide": c.props.CurrentSlide})
		if c.props.OnTimeUpdate != nil {
			c.props.OnTimeUpdate(t, c.clock.Duration())
		}
	})
	c.clock.OnError(func(src string, err error) {
		c.publish(bus.EventTypeAudioFailed, map[string]any{"src": src, "error": err.Error()})
		c.setSpeaking(false)
	})

	loop.Post(func() {
		c.mounted = true
		c.loadAssets()
		if !opts.ManualFrames {
			c.session.StartFrames(loop.Post)
		}
		c.apply(props)
	})
	return c, nil
}

// Update replaces the props. Returns eventloop.ErrClosed after Close.
func (c *Controller) Update(props Props) error {
	if !c.loop.Post(func() { c.apply(props) }) {
		return eventloop.ErrClosed
	}
	return nil
}

// Cue plays a one-shot avatar clip, such as a gesture tied to a segment.
func (c *Controller) Cue(name string) error {
	if !c.loop.Post(func() {
		if !c.live() {
			return
		}
		if err := c.session.Avatar.Cue(name); err != nil {
			c.log.Warn().Err(err).Str("clip", name).Msg("animation cue skipped")
		}
	}) {
		return eventloop.ErrClosed
	}
	return nil
}

// Frame advances animation by dt seconds and renders once.
func (c *Controller) Frame(dt float64) error {
	if !c.loop.Post(func() { c.session.Frame(dt) }) {
		return eventloop.ErrClosed
	}
	return nil
}

func (c *Controller) Resize(width, height int) error {
	if !c.loop.Post(func() { c.session.Resize(width, height) }) {
		return eventloop.ErrClosed
	}
	return nil
}

// Sync waits until everything posted so far has been handled.
func (c *Controller) Sync(ctx context.Context) error {
	return c.loop.Sync(ctx)
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.loop.Do(ctx, func() {
		s = Status{
			SessionID:    c.session.ID,
			Slide:        c.session.Whiteboard.URL(),
			CurrentSlide: c.props.CurrentSlide,
			IsPlaying:    c.props.IsPlaying,
			Speaking:     c.speaking,
			Clip:         c.session.Avatar.Active(),
			AvatarLoaded: c.avatarLoaded,
			RoomLoaded:   c.roomLoaded,
			Audio:        c.clock.State(),
		}
	})
	return s, err
}

// Close tears the classroom down: frame clock, audio, whiteboard texture
// and renderer. Loads still in flight drop their results.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		done := make(chan struct{})
		if c.loop.Post(func() {
			defer close(done)
			c.mounted = false
			c.clock.Close()
			c.closeErr = c.session.Dispose()
			c.publish(bus.EventTypeSceneDisposed, map[string]any{"session": c.session.ID})
		}) {
			<-done
		}
		c.loop.Close()
		<-c.loop.Done()
	})
	return c.closeErr
}

func (c *Controller) live() bool {
	return c.mounted && c.session.Live()
}

func (c *Controller) apply(props Props) {
	if !c.live() {
		return
	}
	c.props = props
	c.syncSlide()
	c.syncAudio()
}

func (c *Controller) syncSlide() {
	p := c.props
	if len(p.Slides) == 0 || p.CurrentSlide < 0 || p.CurrentSlide >= len(p.Slides) {
		return
	}
	url := p.Slides[p.CurrentSlide]
	if url == c.slideURL {
		return
	}
	c.slideURL = url
	c.slideGen++
	gen := c.slideGen
	index := p.CurrentSlide
	ctx := c.session.Context()
	ready := c.session.Ready

	go func() {
		tex, err := c.slides.Prepare(ctx, ready, url)
		if !c.loop.Post(func() { c.slidePrepared(gen, index, url, tex, err) }) {
			tex.Dispose()
		}
	}()
}

func (c *Controller) slidePrepared(gen uint64, index int, url string, tex *texture.Texture, err error) {
	if !c.live() || gen != c.slideGen {
		tex.Dispose()
		return
	}
	if err != nil {
		ev := c.log.Error()
		if errors.Is(err, texture.ErrWhiteboardNotReady) {
			ev = c.log.Warn()
		}
		ev.Err(err).Str("url", url).Msg("slide not applied")
		c.publish(bus.EventTypeTextureFailed, map[string]any{"url": url, "index": index, "error": err.Error()})
		return
	}
	c.session.Whiteboard.SetTexture(tex)
	c.log.Info().Str("url", url).Int("index", index).Msg("slide applied")
	c.publish(bus.EventTypeTextureApplied, map[string]any{"url": url, "index": index})
}

func (c *Controller) syncAudio() {
	p := c.props
	if len(p.AudioFiles) == 0 {
		c.clock.SetSource("")
		c.setSpeaking(p.IsPlaying)
		return
	}
	if p.CurrentSlide >= 0 && p.CurrentSlide < len(p.AudioFiles) {
		c.clock.SetSource(p.AudioFiles[p.CurrentSlide])
	}
	if p.IsPlaying {
		c.clock.Play()
		return
	}
	c.clock.Pause()
	// a paused host silences the avatar even while the next track loads
	c.setSpeaking(false)
}

func (c *Controller) audioPlayed() {
	c.publish(bus.EventTypeAudioPlay, map[string]any{"src": c.clock.Source()})
	c.setSpeaking(true)
}

func (c *Controller) audioPaused() {
	c.publish(bus.EventTypeAudioPause, map[string]any{"src": c.clock.Source(), "time": c.clock.Position()})
	c.setSpeaking(false)
}

func (c *Controller) audioEnded() {
	c.log.Debug().Int("slide", c.props.CurrentSlide).Msg("slide audio ended")
	c.publish(bus.EventTypeAudioEnded, map[string]any{"src": c.clock.Source(), "slide": c.props.CurrentSlide})
	if c.props.OnSlideComplete != nil {
		c.props.OnSlideComplete()
	}
}

func (c *Controller) setSpeaking(speaking bool) {
	if !c.live() {
		return
	}
	c.session.Avatar.SetSpeaking(speaking)
	if speaking == c.speaking {
		return
	}
	c.speaking = speaking
	if speaking {
		c.publish(bus.EventTypeSpeakingStarted, nil)
	} else {
		c.publish(bus.EventTypeSpeakingStopped, nil)
	}
}

func (c *Controller) publish(t bus.EventType, data map[string]any) {
	if c.bus != nil {
		c.bus.Publish(bus.NewEvent(t, data))
	}
}
