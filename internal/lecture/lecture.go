// Package lecture models a lecture manifest: slides, captions, per-slide
// segments and the schedule that maps playback time to a slide.
package lecture

import (
	"errors"
	"fmt"
)

var (
	ErrScheduleOrder = errors.New("slide start times must be non-decreasing")
	ErrEmptyLecture  = errors.New("lecture has no slides")
)

// Lecture is the manifest produced by the lecture generator.
type Lecture struct {
	Version           string    `json:"version,omitempty" yaml:"version,omitempty"`
	ID                string    `json:"id" yaml:"id"`
	Topic             string    `json:"topic,omitempty" yaml:"topic,omitempty"`
	Title             string    `json:"title,omitempty" yaml:"title,omitempty"`
	Grade             string    `json:"grade,omitempty" yaml:"grade,omitempty"`
	Subject           string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	SpeechText        string    `json:"speech_text,omitempty" yaml:"speech_text,omitempty"`
	AudioURL          string    `json:"audio_url,omitempty" yaml:"audio_url,omitempty"`
	DurationSeconds   float64   `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	Captions          Captions  `json:"captions,omitempty" yaml:"captions,omitempty"`
	Slides            []Slide   `json:"slides,omitempty" yaml:"slides,omitempty"`
	Segments          []Segment `json:"segments,omitempty" yaml:"segments,omitempty"`
	Notes             string    `json:"notes,omitempty" yaml:"notes,omitempty"`
	LecturerAnimation string    `json:"lecturer_animation,omitempty" yaml:"lecturer_animation,omitempty"`
}

// Slide is one entry of a lecture-level slide schedule.
type Slide struct {
	Image     string  `json:"image" yaml:"image"`
	TimeStart float64 `json:"time_start" yaml:"time_start"`
	Title     string  `json:"title,omitempty" yaml:"title,omitempty"`
}

// Caption is shown while time_start <= t < time_end.
type Caption struct {
	TimeStart float64 `json:"time_start" yaml:"time_start"`
	TimeEnd   float64 `json:"time_end" yaml:"time_end"`
	Text      string  `json:"text" yaml:"text"`
}

// Segment is one slide of a per-slide-audio lecture.
type Segment struct {
	Index      int          `json:"index" yaml:"index"`
	Slide      SegmentSlide `json:"slide" yaml:"slide"`
	Audio      SegmentAudio `json:"audio" yaml:"audio"`
	Animations []Cue        `json:"animations,omitempty" yaml:"animations,omitempty"`
}

type SegmentSlide struct {
	Title string `json:"title" yaml:"title"`
	Path  string `json:"path" yaml:"path"`
}

type SegmentAudio struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
}

// Cue asks the avatar to play a named clip once, at Timing (0..1) of the
// segment's audio.
type Cue struct {
	Animation string  `json:"animation" yaml:"animation"`
	Timing    float64 `json:"timing" yaml:"timing"`
}

// Mode tells how the lecture clock is driven.
type Mode int

const (
	// ModeLecture: one audio track, slide chosen by schedule.
	ModeLecture Mode = iota
	// ModeSegments: one audio track per slide, advancing on track end.
	ModeSegments
)

func (m Mode) String() string {
	if m == ModeSegments {
		return "segments"
	}
	return "lecture"
}

// Mode reports ModeSegments when the manifest carries segments.
func (l *Lecture) Mode() Mode {
	if len(l.Segments) > 0 {
		return ModeSegments
	}
	return ModeLecture
}

// SlideURLs returns the ordered slide image URLs for either mode.
func (l *Lecture) SlideURLs() []string {
	if l.Mode() == ModeSegments {
		urls := make([]string, len(l.Segments))
		for i, s := range l.Segments {
			urls[i] = s.Slide.Path
		}
		return urls
	}
	urls := make([]string, len(l.Slides))
	for i, s := range l.Slides {
		urls[i] = s.Image
	}
	return urls
}

// AudioFiles returns per-slide audio URLs, or nil in lecture mode. A
// segment without speech yields "".
func (l *Lecture) AudioFiles() []string {
	if l.Mode() != ModeSegments {
		return nil
	}
	files := make([]string, len(l.Segments))
	for i, s := range l.Segments {
		files[i] = s.Audio.Path
	}
	return files
}

// Schedule builds the slide schedule of a lecture-mode manifest.
func (l *Lecture) Schedule() (*Schedule, error) {
	entries := make([]Entry, len(l.Slides))
	for i, s := range l.Slides {
		entries[i] = Entry{ImageURL: s.Image, StartTimeSeconds: s.TimeStart}
	}
	return NewSchedule(entries)
}

// Validate checks the manifest can be presented.
func (l *Lecture) Validate() error {
	if len(l.SlideURLs()) == 0 {
		return ErrEmptyLecture
	}
	if l.Mode() == ModeLecture {
		if _, err := l.Schedule(); err != nil {
			return err
		}
	}
	for i, c := range l.Captions {
		if c.TimeEnd < c.TimeStart {
			return fmt.Errorf("caption %d ends before it starts (%.2f < %.2f)", i, c.TimeEnd, c.TimeStart)
		}
	}
	return nil
}
