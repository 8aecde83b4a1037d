// Package playback keeps the lecture audio clock: one track at a time,
// idempotent play/pause, source switching with automatic resume, and
// periodic time updates.
package playback

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/lecture3d/internal/metrics"
)

// State is the playback position as the presenter sees it.
type State struct {
	Source      string  `json:"source"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	IsPlaying   bool    `json:"is_playing"`
	Loading     bool    `json:"loading"`
}

type Options struct {
	// TimeUpdateInterval is the period of OnTimeUpdate while playing.
	TimeUpdateInterval time.Duration
	// Now overrides the wall clock in tests.
	Now func() time.Time
}

// Clock binds one Track at a time. All methods, and every callback, run
// on the owner's event loop; post is how background work gets back there.
type Clock struct {
	media    Media
	post     func(func()) bool
	log      zerolog.Logger
	interval time.Duration
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	src      string
	gen      uint64
	loading  bool
	track    Track
	duration float64

	wantPlay  bool
	playing   bool
	base      float64
	startedAt time.Time
	tickStop  chan struct{}

	onTimeUpdate []func(t float64)
	onPlay       []func()
	onPause      []func()
	onEnded      []func()
	onError      []func(src string, err error)
}

func NewClock(media Media, post func(func()) bool, opts Options, log zerolog.Logger) *Clock {
	if opts.TimeUpdateInterval <= 0 {
		opts.TimeUpdateInterval = 250 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Clock{
		media:    media,
		post:     post,
		log:      log,
		interval: opts.TimeUpdateInterval,
		now:      opts.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Clock) OnTimeUpdate(fn func(t float64)) { c.onTimeUpdate = append(c.onTimeUpdate, fn) }

func (c *Clock) OnPlay(fn func()) { c.onPlay = append(c.onPlay, fn) }

func (c *Clock) OnPause(fn func()) { c.onPause = append(c.onPause, fn) }

// OnEnded fires when the track plays to its end.
func (c *Clock) OnEnded(fn func()) { c.onEnded = append(c.onEnded, fn) }

// OnError fires when a source fails to open.
func (c *Clock) OnError(fn func(src string, err error)) { c.onError = append(c.onError, fn) }

// SetSource switches to src and reports whether anything changed. The
// same source again is a no-op. The previous track is stopped and closed,
// the position resets to 0, and src opens in the background; if playback
// is requested when it becomes ready, it starts by itself. An empty src
// just unloads.
func (c *Clock) SetSource(src string) bool {
	if c.closed || src == c.src {
		return false
	}
	c.unload()
	c.src = src
	c.gen++
	if src == "" {
		return true
	}

	c.loading = true
	gen := c.gen
	ctx := c.ctx
	go func() {
		track, err := c.media.Open(ctx, src)
		if !c.post(func() { c.opened(gen, src, track, err) }) && track != nil {
			_ = track.Close()
		}
	}()
	return true
}

func (c *Clock) opened(gen uint64, src string, track Track, err error) {
	if c.closed || gen != c.gen {
		if track != nil {
			_ = track.Close()
		}
		return
	}
	c.loading = false
	if err != nil {
		c.log.Error().Err(err).Str("src", src).Msg("audio source failed to load")
		for _, fn := range c.onError {
			fn(src, err)
		}
		return
	}

	c.track = track
	c.duration = track.Duration()
	c.log.Debug().Str("src", src).Float64("duration", c.duration).Msg("audio source ready")
	if c.wantPlay {
		c.start()
	}
}

func (c *Clock) unload() {
	c.stopTicker()
	if c.track != nil {
		if c.playing {
			c.track.Stop()
		}
		_ = c.track.Close()
	}
	c.track = nil
	c.loading = false
	c.playing = false
	c.duration = 0
	c.base = 0
}

// Play requests playback. While the source is still loading the request
// is remembered. Playing twice is a no-op.
func (c *Clock) Play() {
	if c.closed {
		return
	}
	c.wantPlay = true
	if c.playing || c.track == nil {
		return
	}
	c.start()
}

func (c *Clock) start() {
	if c.duration > 0 && c.base >= c.duration {
		c.base = 0
	}
	if err := c.track.Start(c.base); err != nil {
		c.wantPlay = false
		if errors.Is(err, ErrPlaybackRejected) {
			metrics.PlaybackRejections.Inc()
		}
		c.log.Warn().Err(err).Str("src", c.src).Msg("playback did not start")
		return
	}
	c.playing = true
	c.startedAt = c.now()
	c.startTicker()
	for _, fn := range c.onPlay {
		fn()
	}
}

// Pause stops playback and keeps the position. Pausing twice is a no-op.
func (c *Clock) Pause() {
	c.wantPlay = false
	if !c.playing {
		return
	}
	c.base = c.Position()
	c.halt()
	for _, fn := range c.onPause {
		fn()
	}
}

func (c *Clock) halt() {
	c.playing = false
	c.stopTicker()
	c.track.Stop()
}

// Seek moves the playhead, clamped to [0, duration].
func (c *Clock) Seek(t float64) {
	if c.closed {
		return
	}
	t = c.clamp(t)
	c.base = t
	if c.playing {
		c.track.Stop()
		c.startedAt = c.now()
		if err := c.track.Start(t); err != nil {
			c.log.Warn().Err(err).Float64("t", t).Msg("seek restart failed")
			c.wantPlay = false
			c.halt()
			for _, fn := range c.onPause {
				fn()
			}
		}
	}
	c.emitTime(t)
}

func (c *Clock) clamp(t float64) float64 {
	if t < 0 {
		return 0
	}
	if c.duration > 0 && t > c.duration {
		return c.duration
	}
	return t
}

// Position is the current playhead in seconds.
func (c *Clock) Position() float64 {
	if !c.playing {
		return c.base
	}
	return c.clamp(c.base + c.now().Sub(c.startedAt).Seconds())
}

// Tick emits a time update, or ends the track once the playhead reaches
// its duration. The internal ticker calls it; tests may too.
func (c *Clock) Tick() {
	if !c.playing {
		return
	}
	t := c.Position()
	if c.duration > 0 && t >= c.duration {
		c.base = c.duration
		c.wantPlay = false
		c.halt()
		c.emitTime(c.duration)
		c.log.Debug().Str("src", c.src).Msg("audio ended")
		for _, fn := range c.onEnded {
			fn()
		}
		for _, fn := range c.onPause {
			fn()
		}
		return
	}
	c.emitTime(t)
}

func (c *Clock) emitTime(t float64) {
	for _, fn := range c.onTimeUpdate {
		fn(t)
	}
}

func (c *Clock) startTicker() {
	c.stopTicker()
	stop := make(chan struct{})
	c.tickStop = stop
	interval := c.interval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !c.post(func() {
					// a ticker stopped after this tick was queued
					if c.tickStop == stop {
						c.Tick()
					}
				}) {
					return
				}
			}
		}
	}()
}

func (c *Clock) stopTicker() {
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
}

func (c *Clock) State() State {
	return State{
		Source:      c.src,
		CurrentTime: c.Position(),
		Duration:    c.duration,
		IsPlaying:   c.playing,
		Loading:     c.loading,
	}
}

func (c *Clock) Source() string { return c.src }

func (c *Clock) Playing() bool { return c.playing }

func (c *Clock) Duration() float64 { return c.duration }

// Close pauses and releases the track. Pending opens are discarded when
// they complete. Callbacks do not fire.
func (c *Clock) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.wantPlay = false
	c.cancel()
	c.unload()
	c.gen++
}
