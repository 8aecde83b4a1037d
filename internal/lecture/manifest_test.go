package lecture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lectureJSON = `{
  "id": "photosynthesis",
  "topic": "Photosynthesis",
  "grade": "8-10",
  "subject": "Biology",
  "audio_url": "/audio/photosynthesis.mp3",
  "duration_seconds": 60,
  "captions": [{"time_start": 0, "time_end": 5, "text": "Welcome"}],
  "slides": [
    {"image": "/slides/a.svg", "time_start": 0, "title": "Intro"},
    {"image": "/slides/b.svg", "time_start": 30, "title": "Light"}
  ],
  "lecturer_animation": "Talking"
}`

const segmentsJSON = `{
  "id": "cells",
  "title": "Cells",
  "segments": [
    {"index": 1, "slide": {"title": "Intro", "path": "/lectures/cells/slides/slide1.svg"},
     "audio": {"path": "/lectures/cells/audio/audio1.wav", "text": "Hello class"},
     "animations": [{"animation": "Wave", "timing": 0.1}]},
    {"index": 2, "slide": {"title": "Outro", "path": "/lectures/cells/slides/slide2.svg"},
     "audio": {"path": null, "text": ""}}
  ]
}`

func TestParseLectureMode(t *testing.T) {
	l, err := Parse([]byte(lectureJSON), ".json")
	require.NoError(t, err)

	assert.Equal(t, ModeLecture, l.Mode())
	assert.Equal(t, []string{"/slides/a.svg", "/slides/b.svg"}, l.SlideURLs())
	assert.Nil(t, l.AudioFiles())

	s, err := l.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 1, s.IndexAt(31))
}

func TestParseSegmentsMode(t *testing.T) {
	l, err := Parse([]byte(segmentsJSON), ".json")
	require.NoError(t, err)

	assert.Equal(t, ModeSegments, l.Mode())
	assert.Equal(t, []string{"/lectures/cells/slides/slide1.svg", "/lectures/cells/slides/slide2.svg"}, l.SlideURLs())
	assert.Equal(t, []string{"/lectures/cells/audio/audio1.wav", ""}, l.AudioFiles())
	assert.Equal(t, "Wave", l.Segments[0].Animations[0].Animation)
}

func TestParseRejectsBadManifests(t *testing.T) {
	_, err := Parse([]byte(`{"id": "x"}`), ".json")
	assert.ErrorIs(t, err, ErrEmptyLecture)

	_, err = Parse([]byte(`{"slides":[{"image":"a","time_start":10},{"image":"b","time_start":1}]}`), ".json")
	assert.ErrorIs(t, err, ErrScheduleOrder)

	_, err = Parse([]byte("slides: [unterminated"), ".yaml")
	assert.Error(t, err)
}

func TestSaveLoadYAML(t *testing.T) {
	l, err := Parse([]byte(lectureJSON), ".json")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "lecture.yaml")
	require.NoError(t, Save(l, path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, back.Version)
	assert.Equal(t, l.Slides, back.Slides)
	assert.Equal(t, l.Captions, back.Captions)
}

func TestFindLatest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lecture.json"), []byte(lectureJSON), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0644))

	path, err := FindLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, "lecture.json", filepath.Base(path))
}
