package presenter

import (
	"context"
	"time"

	"github.com/ivlev/lecture3d/internal/bus"
	"github.com/ivlev/lecture3d/internal/lecture"
	"github.com/ivlev/lecture3d/internal/playback"
)

// silenceSource stands in for a lecture that has no audio track.
const silenceSource = "silence:"

// silence plays silenceSource for a fixed duration and defers every other
// source to Media.
type silence struct {
	playback.Media
	duration float64
}

func (s silence) Open(ctx context.Context, src string) (playback.Track, error) {
	if src == silenceSource {
		return playback.FixedMedia{Durations: map[string]float64{src: s.duration}}.Open(ctx, src)
	}
	return s.Media.Open(ctx, src)
}

// enterSegment shows segment i from its start.
func (p *Presenter) enterSegment(i int) {
	seg := p.lec.Segments[i]
	p.slide = i
	p.entry++
	p.segTime = 0
	p.cued = make(map[int]bool)
	p.push()
	p.publish(bus.EventTypeSlideChanged, map[string]any{"index": i, "url": seg.Slide.Path, "title": seg.Slide.Title})
	p.setCaption(seg.Audio.Text)
	p.stopDwell()
	if p.playing {
		p.armDwell()
	}
}

// current reports whether a callback built for (gen, entry) still belongs
// to the segment on screen.
func (p *Presenter) current(gen, entry uint64) bool {
	return gen == p.gen && entry == p.entry && p.lec != nil
}

// segmentComplete advances past the current segment once its audio ends.
func (p *Presenter) segmentComplete(gen, entry uint64) {
	if !p.current(gen, entry) || p.ended {
		return
	}
	p.publish(bus.EventTypeSegmentCompleted, map[string]any{"index": p.slide})
	next := p.slide + 1
	if next >= len(p.lec.Segments) {
		p.stopDwell()
		p.setPlaying(false)
		p.finish()
		return
	}
	p.enterSegment(next)
}

// segmentTime fires the segment's animation cues as its audio passes them.
func (p *Presenter) segmentTime(gen, entry uint64, t, duration float64) {
	if !p.current(gen, entry) {
		return
	}
	p.segTime = t
	seg := p.lec.Segments[p.slide]
	for i, at := range lecture.CueTimes(seg.Animations, duration) {
		if p.cued[i] || t < at {
			continue
		}
		p.cued[i] = true
		name := seg.Animations[i].Animation
		if err := p.ctrl.Cue(name); err != nil {
			p.log.Warn().Err(err).Str("clip", name).Msg("cue not delivered")
		}
	}
}

// armDwell schedules the advance of a segment that has no audio.
func (p *Presenter) armDwell() {
	if p.lec == nil || p.schedule != nil || p.lec.Segments[p.slide].Audio.Path != "" {
		return
	}
	p.stopDwell()
	gen, entry := p.gen, p.entry
	p.dwell = time.AfterFunc(p.opts.SilentDwell, func() {
		p.loop.Post(func() {
			if p.playing {
				p.segmentComplete(gen, entry)
			}
		})
	})
}

func (p *Presenter) stopDwell() {
	if p.dwell != nil {
		p.dwell.Stop()
		p.dwell = nil
	}
}
