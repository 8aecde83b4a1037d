// Package presenter hosts a lecture: it owns the lecture clock, derives
// the current slide and caption from it, and pushes props into the
// classroom controller.
package presenter

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/lecture3d/internal/bus"
	"github.com/ivlev/lecture3d/internal/classroom"
	"github.com/ivlev/lecture3d/internal/eventloop"
	"github.com/ivlev/lecture3d/internal/lecture"
	"github.com/ivlev/lecture3d/internal/logging"
	"github.com/ivlev/lecture3d/internal/playback"
)

var ErrNoLecture = errors.New("no lecture loaded")

// Controller is the part of classroom.Controller the presenter drives.
type Controller interface {
	Update(props classroom.Props) error
	Cue(name string) error
}

type Options struct {
	TimeUpdateInterval time.Duration
	// SilentDwell is how long a segment without audio stays up.
	SilentDwell time.Duration
	Now         func() time.Time
}

// State is what the presenter shows right now.
type State struct {
	LectureID string         `json:"lecture_id"`
	Title     string         `json:"title"`
	Mode      string         `json:"mode"`
	Slide     int            `json:"slide"`
	Slides    int            `json:"slides"`
	Caption   string         `json:"caption"`
	Playing   bool           `json:"playing"`
	Ended     bool           `json:"ended"`
	Audio     playback.State `json:"audio"`
}

// Presenter owns the lecture-level clock. Its state lives on its own event
// loop; exported methods are safe from any goroutine.
type Presenter struct {
	loop  *eventloop.Loop
	ctrl  Controller
	media playback.Media
	bus   *bus.EventBus
	opts  Options
	log   zerolog.Logger

	lec      *lecture.Lecture
	schedule *lecture.Schedule
	clock    *playback.Clock
	gen      uint64

	slide   int
	caption string
	playing bool
	ended   bool
	done    chan struct{}

	// entry counts segment entries; callbacks built for an earlier entry
	// are dropped.
	entry   uint64
	segTime float64
	cued    map[int]bool
	dwell   *time.Timer
}

func New(ctrl Controller, media playback.Media, b *bus.EventBus, opts Options, log zerolog.Logger) *Presenter {
	if opts.SilentDwell <= 0 {
		opts.SilentDwell = 5 * time.Second
	}
	log = logging.Component(log, "presenter")
	return &Presenter{
		loop:  eventloop.New(log).Start(),
		ctrl:  ctrl,
		media: media,
		bus:   b,
		opts:  opts,
		log:   log,
		done:  make(chan struct{}),
	}
}

// Load replaces the lecture and rewinds to its start, paused.
func (p *Presenter) Load(ctx context.Context, lec *lecture.Lecture) error {
	if err := lec.Validate(); err != nil {
		return err
	}
	var err error
	if derr := p.loop.Do(ctx, func() { err = p.load(lec) }); derr != nil {
		return derr
	}
	return err
}

// Reload swaps in a new version of the lecture, keeping the slide (or the
// lecture time) and whether it was playing.
func (p *Presenter) Reload(ctx context.Context, lec *lecture.Lecture) error {
	if err := lec.Validate(); err != nil {
		return err
	}
	var err error
	derr := p.loop.Do(ctx, func() {
		wasPlaying := p.playing
		slide := p.slide
		var at float64
		if p.clock != nil {
			at = p.clock.Position()
		}

		if err = p.load(lec); err != nil {
			return
		}
		if lec.Mode() == lecture.ModeSegments {
			if slide < len(lec.Segments) {
				p.slide = slide
				p.caption = lec.Segments[slide].Audio.Text
			}
		} else {
			p.clock.Seek(at)
		}
		p.push()
		if wasPlaying {
			p.play()
		}
		p.publish(bus.EventTypeLectureReloaded, map[string]any{"id": lec.ID, "slide": p.slide})
	})
	if derr != nil {
		return derr
	}
	return err
}

func (p *Presenter) load(lec *lecture.Lecture) error {
	var schedule *lecture.Schedule
	if lec.Mode() == lecture.ModeLecture {
		s, err := lec.Schedule()
		if err != nil {
			return err
		}
		schedule = s
	}

	p.reset()
	p.lec = lec
	p.schedule = schedule
	p.done = make(chan struct{})

	if lec.Mode() == lecture.ModeLecture {
		src := lec.AudioURL
		media := p.media
		if src == "" {
			src = silenceSource
			media = silence{Media: p.media, duration: lec.DurationSeconds}
		}
		p.clock = playback.NewClock(media, p.loop.Post, playback.Options{
			TimeUpdateInterval: p.opts.TimeUpdateInterval,
			Now:                p.opts.Now,
		}, logging.Component(p.log, "lecture-audio"))
		p.clock.OnTimeUpdate(p.lectureTime)
		p.clock.OnPlay(func() { p.setPlaying(true) })
		p.clock.OnPause(func() { p.setPlaying(false) })
		p.clock.OnEnded(p.finish)
		p.clock.SetSource(src)
		p.caption = captionAt(lec.Captions, 0)
	} else {
		p.caption = lec.Segments[0].Audio.Text
	}

	p.log.Info().
		Str("id", lec.ID).
		Str("mode", lec.Mode().String()).
		Int("slides", len(lec.SlideURLs())).
		Msg("lecture loaded")
	p.push()
	return nil
}

// reset stops whatever the previous lecture was doing.
func (p *Presenter) reset() {
	p.gen++
	p.stopDwell()
	if p.clock != nil {
		p.clock.Close()
		p.clock = nil
	}
	p.slide = 0
	p.caption = ""
	p.playing = false
	p.ended = false
	p.segTime = 0
	p.cued = make(map[int]bool)
}

func (p *Presenter) Play() error { return p.post(p.play) }

func (p *Presenter) Pause() error { return p.post(p.pause) }

// Toggle plays when paused and pauses when playing.
func (p *Presenter) Toggle() error {
	return p.post(func() {
		if p.playing {
			p.pause()
		} else {
			p.play()
		}
	})
}

// Seek jumps to t seconds of the lecture. Segment lectures seek by slide:
// see GoTo.
func (p *Presenter) Seek(t float64) error {
	return p.post(func() {
		if p.clock != nil {
			p.rewind()
			p.clock.Seek(t)
		}
	})
}

// GoTo jumps to slide i. In lecture mode this seeks to the slide's start.
func (p *Presenter) GoTo(i int) error {
	return p.post(func() {
		if p.lec == nil {
			return
		}
		if p.schedule != nil {
			if i >= 0 && i < p.schedule.Len() {
				p.rewind()
				p.clock.Seek(p.schedule.Entry(i).StartTimeSeconds)
			}
			return
		}
		if i >= 0 && i < len(p.lec.Segments) {
			p.rewind()
			p.enterSegment(i)
		}
	})
}

func (p *Presenter) post(fn func()) error {
	if !p.loop.Post(fn) {
		return eventloop.ErrClosed
	}
	return nil
}

func (p *Presenter) play() {
	if p.lec == nil {
		return
	}
	if p.ended {
		p.rewind()
		if p.clock == nil {
			p.enterSegment(0)
		}
	}
	if p.clock != nil {
		p.clock.Play()
		return
	}
	if p.playing {
		return
	}
	p.setPlaying(true)
	p.armDwell()
}

// rewind reopens an ended lecture.
func (p *Presenter) rewind() {
	if !p.ended {
		return
	}
	p.ended = false
	p.done = make(chan struct{})
}

func (p *Presenter) pause() {
	if p.clock != nil {
		p.clock.Pause()
		return
	}
	p.stopDwell()
	p.setPlaying(false)
}

func (p *Presenter) setPlaying(playing bool) {
	if p.playing == playing {
		return
	}
	p.playing = playing
	p.push()
}

// lectureTime maps the lecture clock onto slide and caption.
func (p *Presenter) lectureTime(t float64) {
	if idx := p.schedule.IndexAt(t); idx != p.slide {
		p.slide = idx
		p.push()
		p.publish(bus.EventTypeSlideChanged, map[string]any{"index": idx, "url": p.schedule.Entry(idx).ImageURL, "time": t})
	}
	p.setCaption(captionAt(p.lec.Captions, t))
	p.publish(bus.EventTypeTimeUpdate, map[string]any{"time": t, "duration": p.clock.Duration()})
}

func captionAt(cs lecture.Captions, t float64) string {
	c, _ := cs.At(t)
	return c.Text
}

func (p *Presenter) setCaption(text string) {
	if text == p.caption {
		return
	}
	p.caption = text
	p.publish(bus.EventTypeCaptionChanged, map[string]any{"text": text, "slide": p.slide})
}

// finish marks the lecture as done.
func (p *Presenter) finish() {
	if p.ended {
		return
	}
	p.ended = true
	p.log.Info().Str("id", p.lec.ID).Msg("lecture ended")
	p.publish(bus.EventTypeLectureEnded, map[string]any{"id": p.lec.ID})
	close(p.done)
}

// push sends the derived props to the controller.
func (p *Presenter) push() {
	if p.lec == nil {
		return
	}
	props := classroom.Props{
		IsPlaying:    p.playing,
		CurrentSlide: p.slide,
		Slides:       p.lec.SlideURLs(),
	}
	if p.lec.Mode() == lecture.ModeSegments {
		gen, entry := p.gen, p.entry
		props.AudioFiles = p.lec.AudioFiles()
		props.OnSlideComplete = func() {
			p.loop.Post(func() { p.segmentComplete(gen, entry) })
		}
		props.OnTimeUpdate = func(t, d float64) {
			p.loop.Post(func() { p.segmentTime(gen, entry, t, d) })
		}
	}
	if err := p.ctrl.Update(props); err != nil {
		p.log.Warn().Err(err).Msg("controller rejected props")
	}
}

func (p *Presenter) publish(t bus.EventType, data map[string]any) {
	if p.bus != nil {
		p.bus.Publish(bus.NewEvent(t, data))
	}
}

func (p *Presenter) State(ctx context.Context) (State, error) {
	var s State
	err := p.loop.Do(ctx, func() {
		if p.lec == nil {
			return
		}
		s = State{
			LectureID: p.lec.ID,
			Title:     p.lec.Title,
			Mode:      p.lec.Mode().String(),
			Slide:     p.slide,
			Slides:    len(p.lec.SlideURLs()),
			Caption:   p.caption,
			Playing:   p.playing,
			Ended:     p.ended,
		}
		if s.Title == "" {
			s.Title = p.lec.Topic
		}
		if p.clock != nil {
			s.Audio = p.clock.State()
		} else {
			s.Audio = playback.State{
				Source:      p.lec.Segments[p.slide].Audio.Path,
				CurrentTime: p.segTime,
				IsPlaying:   p.playing,
			}
		}
	})
	return s, err
}

// Wait blocks until the current lecture ends.
func (p *Presenter) Wait(ctx context.Context) error {
	var done chan struct{}
	var loaded bool
	if err := p.loop.Do(ctx, func() {
		done = p.done
		loaded = p.lec != nil
	}); err != nil {
		return err
	}
	if !loaded {
		return ErrNoLecture
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the clock and the loop. The controller is not closed.
func (p *Presenter) Close() {
	p.loop.Post(p.reset)
	p.loop.Close()
	<-p.loop.Done()
}
