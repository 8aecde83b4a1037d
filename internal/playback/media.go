package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ivlev/lecture3d/internal/source"
	"github.com/ivlev/lecture3d/internal/system"
)

// ErrPlaybackRejected is returned by Track.Start when the backend refuses
// to start playback (autoplay policy, no output device).
var ErrPlaybackRejected = errors.New("playback rejected")

// Media opens audio sources.
type Media interface {
	// Open blocks until the track can play through, or fails.
	Open(ctx context.Context, src string) (Track, error)
}

// Track is an opened audio source. The Clock keeps the playhead; the
// track only starts and stops output.
type Track interface {
	// Duration in seconds; 0 when unknown.
	Duration() float64
	// Start begins output at offset seconds.
	Start(offset float64) error
	Stop()
	Close() error
}

// ProbeMedia measures tracks with ffprobe and plays them silently. Local
// paths resolve through Files; http(s) URLs go to ffprobe as is.
// Durations are cached per source.
type ProbeMedia struct {
	FFprobe string
	Files   *source.FileFetcher

	mu        sync.Mutex
	durations map[string]float64
}

func NewProbeMedia(ffprobe string, files *source.FileFetcher) *ProbeMedia {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &ProbeMedia{FFprobe: ffprobe, Files: files, durations: make(map[string]float64)}
}

func (m *ProbeMedia) Open(ctx context.Context, src string) (Track, error) {
	m.mu.Lock()
	d, ok := m.durations[src]
	m.mu.Unlock()
	if ok {
		return &silentTrack{duration: d}, nil
	}

	target := src
	lower := strings.ToLower(src)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") && m.Files != nil {
		p, err := m.Files.Path(src)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", src, err)
		}
		target = p
	}

	d, err := system.GetAudioDuration(ctx, m.FFprobe, target)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", src, err)
	}

	m.mu.Lock()
	m.durations[src] = d
	m.mu.Unlock()
	return &silentTrack{duration: d}, nil
}

// FixedMedia opens every source with a known duration and never touches
// the filesystem. Sources missing from Durations fail to open.
type FixedMedia struct {
	Durations map[string]float64
}

func (m FixedMedia) Open(ctx context.Context, src string) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := m.Durations[src]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrNotFound, src)
	}
	return &silentTrack{duration: d}, nil
}

type silentTrack struct {
	duration float64
	closed   bool
}

func (t *silentTrack) Duration() float64 { return t.duration }

func (t *silentTrack) Start(float64) error {
	if t.closed {
		return fmt.Errorf("%w: track closed", ErrPlaybackRejected)
	}
	return nil
}

func (t *silentTrack) Stop() {}

func (t *silentTrack) Close() error {
	t.closed = true
	return nil
}
