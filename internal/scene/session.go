package scene

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivlev/lecture3d/internal/animation"
	"github.com/ivlev/lecture3d/internal/metrics"
)

var ErrDisposed = errors.New("scene session disposed")

type Options struct {
	Width     int
	Height    int
	FPS       int
	Animation animation.Options
}

// Session owns one classroom: scene graph, camera, whiteboard, avatar
// animation and renderer. Except for StartFrames, its methods must be
// called from the owning event loop.
type Session struct {
	ID         string
	Scene      *Scene
	Camera     *Camera
	Whiteboard *Whiteboard
	// Ready settles when the room (and so the whiteboard) is in place, or
	// fails if the room cannot load.
	Ready  *Readiness
	Mixer  *animation.Mixer
	Clips  *animation.ClipSet
	Avatar *animation.StateMachine

	renderer Renderer
	opts     Options
	log      zerolog.Logger

	room   *Node
	avatar *Node

	ctx          context.Context
	cancel       context.CancelFunc
	frames       sync.WaitGroup
	framePending atomic.Bool
	frameIndex   uint64
	disposed     bool
}

// Create builds an empty classroom session around renderer.
func Create(renderer Renderer, opts Options, log zerolog.Logger) *Session {
	if opts.FPS <= 0 {
		opts.FPS = 60
	}
	id := uuid.NewString()
	log = log.With().Str("session", id).Logger()

	mixer := animation.NewMixer()
	clips := animation.NewClipSet()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:         id,
		Scene:      NewClassroomScene(),
		Camera:     NewClassroomCamera(opts.Width, opts.Height),
		Whiteboard: NewWhiteboard(),
		Ready:      NewReadiness(),
		Mixer:      mixer,
		Clips:      clips,
		Avatar:     animation.NewStateMachine(mixer, clips, opts.Animation, log),
		renderer:   renderer,
		opts:       opts,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
	renderer.SetSize(opts.Width, opts.Height)
	metrics.ActiveSessions.Inc()
	log.Debug().Int("width", opts.Width).Int("height", opts.Height).Msg("scene session created")
	return s
}

// Context is canceled when the session is disposed.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Live reports whether the session has not been disposed.
func (s *Session) Live() bool {
	return !s.disposed
}

// AttachRoom inserts the room subtree, mounts the whiteboard and settles
// Ready.
func (s *Session) AttachRoom(a *Asset) {
	if s.disposed {
		return
	}
	s.room = a.Root
	s.Scene.Root.Add(a.Root)
	s.Scene.Root.Add(s.Whiteboard.Node)
	s.Ready.Resolve()
	s.log.Info().Str("url", a.URL).Int("nodes", a.Root.Count()).Msg("room loaded")
}

// FailRoom leaves the scene without a room and fails Ready so slide
// requests stop waiting.
func (s *Session) FailRoom(err error) {
	s.Ready.Fail(fmt.Errorf("room unavailable: %w", err))
}

// AttachAvatar poses the avatar next to the whiteboard, registers its clips
// and starts the idle clip.
func (s *Session) AttachAvatar(a *Asset) error {
	if s.disposed {
		return ErrDisposed
	}
	a.Root.Position = mgl32.Vec3{-2.0, 0, -1.2}
	a.Root.SetUniformScale(1.1)
	a.Root.SetRotationY(math.Pi / 3)
	s.avatar = a.Root
	s.Scene.Root.Add(a.Root)

	if err := s.Clips.Register(s.Mixer, a.Clips); err != nil {
		return err
	}
	s.log.Info().Str("url", a.URL).Strs("clips", s.Clips.Names()).Msg("avatar loaded")
	return s.Avatar.Start()
}

func (s *Session) Room() *Node { return s.room }

func (s *Session) AvatarNode() *Node { return s.avatar }

// Frame advances animation by dt seconds and renders.
func (s *Session) Frame(dt float64) {
	if s.disposed {
		return
	}
	s.Mixer.Update(dt)

	weights := make(map[string]float64)
	for _, a := range s.Clips.Running() {
		weights[a.Name()] = a.Weight()
	}
	s.frameIndex++
	err := s.renderer.Render(Frame{
		Index:      s.frameIndex,
		Time:       s.Mixer.Time(),
		Scene:      s.Scene,
		Camera:     s.Camera,
		Whiteboard: s.Whiteboard,
		Weights:    weights,
	})
	if err != nil {
		s.log.Error().Err(err).Uint64("frame", s.frameIndex).Msg("render failed")
	}
}

// StartFrames runs the frame clock on its own goroutine, posting one Frame
// per tick through post. A tick is skipped while the previous frame is
// still queued, so frames never pile up. Stops on Dispose or when post
// refuses.
func (s *Session) StartFrames(post func(func()) bool) {
	interval := time.Second / time.Duration(s.opts.FPS)
	s.frames.Add(1)
	go func() {
		defer s.frames.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := time.Now()
		for {
			select {
			case <-s.ctx.Done():
				return
			case now := <-ticker.C:
				if !s.framePending.CompareAndSwap(false, true) {
					continue
				}
				dt := now.Sub(last).Seconds()
				last = now
				if !post(func() {
					s.framePending.Store(false)
					s.Frame(dt)
				}) {
					return
				}
			}
		}
	}()
}

func (s *Session) Resize(width, height int) {
	if s.disposed || width <= 0 || height <= 0 {
		return
	}
	s.opts.Width, s.opts.Height = width, height
	s.Camera.Resize(width, height)
	s.renderer.SetSize(width, height)
}

// Dispose stops the frame clock, releases the whiteboard texture and the
// renderer. Calling it again is a no-op.
func (s *Session) Dispose() error {
	if s.disposed {
		return nil
	}
	s.disposed = true
	s.cancel()
	s.frames.Wait()

	s.Ready.Fail(ErrDisposed)
	s.Whiteboard.Dispose()
	s.Mixer.StopAll()
	err := s.renderer.Dispose()
	metrics.ActiveSessions.Dec()

	s.log.Debug().Uint64("frames", s.frameIndex).Msg("scene session disposed")
	if err != nil {
		return fmt.Errorf("dispose renderer: %w", err)
	}
	return nil
}
