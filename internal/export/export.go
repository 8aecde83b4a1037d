// Package export renders a lecture manifest to a single MP4: one encoded
// segment per slide, joined and muxed with the lecture audio.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/lecture3d/internal/config"
	"github.com/ivlev/lecture3d/internal/lecture"
	"github.com/ivlev/lecture3d/internal/scene"
	"github.com/ivlev/lecture3d/internal/source"
	"github.com/ivlev/lecture3d/internal/texture"
	"github.com/ivlev/lecture3d/internal/video"
)

var ErrNoDuration = errors.New("lecture duration unknown")

// encodeWorkers caps parallel ffmpeg encoders so hardware encoders are not
// oversubscribed.
const encodeWorkers = 4

type SlidePreparer interface {
	Prepare(ctx context.Context, ready texture.Waiter, url string) (*texture.Texture, error)
}

// ProbeFunc returns the duration in seconds of a local media file.
type ProbeFunc func(ctx context.Context, path string) (float64, error)

type Options struct {
	Output       string
	Width        int
	Height       int
	FPS          int
	Workers      int
	Transition   string
	FadeDuration float64
	SilentDwell  time.Duration
}

func OptionsFromConfig(cfg *config.Config, output string) Options {
	return Options{
		Output:       output,
		Width:        cfg.Slides.Width,
		Height:       cfg.Slides.Height,
		FPS:          cfg.Render.FPS,
		Workers:      cfg.Render.Workers,
		Transition:   cfg.Render.Transition,
		FadeDuration: cfg.Render.FadeDuration,
		SilentDwell:  cfg.Render.SilentDwell,
	}
}

// Project is one export run.
type Project struct {
	Lecture *lecture.Lecture
	Slides  SlidePreparer
	Encoder video.Encoder
	Files   *source.FileFetcher
	Probe   ProbeFunc

	opts Options
	log  zerolog.Logger
}

func NewProject(lec *lecture.Lecture, slides SlidePreparer, enc video.Encoder, files *source.FileFetcher, probe ProbeFunc, opts Options, log zerolog.Logger) *Project {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}
	if opts.SilentDwell <= 0 {
		opts.SilentDwell = 5 * time.Second
	}
	return &Project{
		Lecture: lec,
		Slides:  slides,
		Encoder: enc,
		Files:   files,
		Probe:   probe,
		opts:    opts,
		log:     log,
	}
}

// Segment is one planned slide of the output.
type Segment struct {
	Index    int
	URL      string
	Duration float64
	Audio    string
}

// Plan is what Run encodes.
type Plan struct {
	Segments []Segment
	// Audio is the lecture-level track muxed at the end; "" in segments mode.
	Audio        string
	Transition   string
	FadeDuration float64
	// PadAudio is set in segments mode, where every segment carries sound.
	PadAudio bool
	Total    float64
}

type Report struct {
	Segments   int
	Duration   float64
	Render     time.Duration
	Encode     time.Duration
	Concat     time.Duration
	Total      time.Duration
	OutputSize uint64
}

func (r Report) String() string {
	return fmt.Sprintf(
		"--- [EXPORT REPORT] ---\n"+
			"Segments: %d (%.1fs of video)\n"+
			"Rendering: %.2fs\n"+
			"Encoding: %.2fs\n"+
			"Concatenation: %.2fs\n"+
			"Total Time: %.2fs\n"+
			"Output: %s\n"+
			"-----------------------\n",
		r.Segments, r.Duration, r.Render.Seconds(), r.Encode.Seconds(), r.Concat.Seconds(),
		r.Total.Seconds(), humanize.Bytes(r.OutputSize),
	)
}

// Plan resolves slide durations and audio paths for the lecture.
func (p *Project) Plan(ctx context.Context) (*Plan, error) {
	if err := p.Lecture.Validate(); err != nil {
		return nil, err
	}
	if p.Lecture.Mode() == lecture.ModeSegments {
		return p.planSegments(ctx)
	}
	return p.planLecture(ctx)
}

func (p *Project) planLecture(ctx context.Context) (*Plan, error) {
	plan := &Plan{Transition: p.opts.Transition, FadeDuration: p.opts.FadeDuration}

	total := p.Lecture.DurationSeconds
	if p.Lecture.AudioURL != "" {
		audio, err := p.localPath(p.Lecture.AudioURL)
		if err != nil {
			return nil, err
		}
		plan.Audio = audio
		if total <= 0 {
			if total, err = p.probe(ctx, audio); err != nil {
				return nil, err
			}
		}
	}
	if total <= 0 {
		return nil, ErrNoDuration
	}
	plan.Total = total

	sched, err := p.Lecture.Schedule()
	if err != nil {
		return nil, err
	}
	for i, d := range sched.Durations(total) {
		if d <= 0 {
			p.log.Warn().Int("slide", i).Msg("slide has no screen time, skipped")
			continue
		}
		plan.Segments = append(plan.Segments, Segment{Index: i, URL: sched.Entry(i).ImageURL, Duration: d})
	}
	if len(plan.Segments) == 0 {
		return nil, ErrNoDuration
	}

	p.fitTransition(plan)
	return plan, nil
}

// fitTransition shrinks the cross-fade to half the shortest segment.
func (p *Project) fitTransition(plan *Plan) {
	if plan.Transition == "" || plan.Transition == "none" || len(plan.Segments) < 2 {
		plan.Transition = "none"
		return
	}
	minDur := plan.Segments[0].Duration
	for _, s := range plan.Segments {
		if s.Duration < minDur {
			minDur = s.Duration
		}
	}
	if plan.FadeDuration >= minDur {
		plan.FadeDuration = minDur / 2
		p.log.Warn().Float64("fade", plan.FadeDuration).Msg("transition shortened to fit the shortest slide")
	}
}

func (p *Project) planSegments(ctx context.Context) (*Plan, error) {
	plan := &Plan{Transition: "none", PadAudio: true}
	for i, seg := range p.Lecture.Segments {
		s := Segment{Index: i, URL: seg.Slide.Path, Duration: p.opts.SilentDwell.Seconds()}
		if seg.Audio.Path != "" {
			audio, err := p.localPath(seg.Audio.Path)
			if err != nil {
				return nil, err
			}
			d, err := p.probe(ctx, audio)
			if err != nil {
				return nil, err
			}
			s.Audio = audio
			s.Duration = d
		}
		plan.Segments = append(plan.Segments, s)
		plan.Total += s.Duration
	}
	return plan, nil
}

func (p *Project) probe(ctx context.Context, path string) (float64, error) {
	if p.Probe == nil {
		return 0, fmt.Errorf("%w: no probe for %s", ErrNoDuration, path)
	}
	d, err := p.Probe(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	return d, nil
}

func (p *Project) localPath(url string) (string, error) {
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || p.Files == nil {
		return url, nil
	}
	return p.Files.Path(url)
}

type rendered struct {
	seg Segment
	tex *texture.Texture
}

// Run plans the lecture, renders and encodes every segment, then joins
// them into opts.Output. A failed segment aborts the export.
func (p *Project) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	var report Report

	plan, err := p.Plan(ctx)
	if err != nil {
		return report, err
	}
	report.Segments = len(plan.Segments)
	report.Duration = plan.Total

	tmpDir, err := os.MkdirTemp("", "lecture3d_export_")
	if err != nil {
		return report, err
	}
	defer os.RemoveAll(tmpDir)

	p.log.Info().
		Str("lecture", p.Lecture.ID).
		Int("segments", len(plan.Segments)).
		Float64("duration", plan.Total).
		Str("size", fmt.Sprintf("%dx%d", p.opts.Width, p.opts.Height)).
		Int("fps", p.opts.FPS).
		Msg("export started")

	// Export has no scene, the whiteboard is always there.
	ready := scene.NewReadiness()
	ready.Resolve()

	paths := make([]string, len(plan.Segments))
	jobs := make(chan Segment)
	results := make(chan rendered)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, s := range plan.Segments {
			select {
			case jobs <- s:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	renderStart := time.Now()
	var renderEnd time.Time
	render, rctx := errgroup.WithContext(gctx)
	for w := 0; w < min(p.opts.Workers, len(plan.Segments)); w++ {
		render.Go(func() error {
			for s := range jobs {
				tex, err := p.Slides.Prepare(rctx, ready, s.URL)
				if err != nil {
					return fmt.Errorf("render slide %d (%s): %w", s.Index, s.URL, err)
				}
				select {
				case results <- rendered{seg: s, tex: tex}:
				case <-rctx.Done():
					tex.Dispose()
					return rctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		err := render.Wait()
		renderEnd = time.Now()
		close(results)
		return err
	})

	for w := 0; w < min(encodeWorkers, len(plan.Segments)); w++ {
		g.Go(func() error {
			for r := range results {
				err := p.encode(gctx, r, plan, tmpDir, paths)
				r.tex.Dispose()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Render = renderEnd.Sub(renderStart)
	report.Encode = time.Since(renderStart)

	concatStart := time.Now()
	err = p.Encoder.Concatenate(ctx, paths, p.opts.Output, tmpDir, p.concatOptions(plan))
	if err != nil {
		return report, fmt.Errorf("join segments: %w", err)
	}
	report.Concat = time.Since(concatStart)
	report.Total = time.Since(started)
	if info, err := os.Stat(p.opts.Output); err == nil {
		report.OutputSize = uint64(info.Size())
	}

	p.log.Info().
		Str("output", p.opts.Output).
		Str("size", humanize.Bytes(report.OutputSize)).
		Dur("took", report.Total).
		Msg("export finished")
	return report, nil
}

func (p *Project) encode(ctx context.Context, r rendered, plan *Plan, tmpDir string, paths []string) error {
	pos := p.position(plan, r.seg.Index)
	duration := r.seg.Duration
	// xfade eats FadeDuration from each joint, so every segment but the
	// last runs that much longer.
	if plan.Transition != "none" && pos < len(plan.Segments)-1 {
		duration += plan.FadeDuration
	}

	segPath := filepath.Join(tmpDir, fmt.Sprintf("s%d.mp4", pos))
	params := config.SegmentParams{
		Width:     p.opts.Width,
		Height:    p.opts.Height,
		FPS:       p.opts.FPS,
		Duration:  duration,
		PageIndex: r.seg.Index,
		Audio:     r.seg.Audio,
		PadAudio:  plan.PadAudio,
	}
	if err := p.Encoder.EncodeSegment(ctx, r.tex.Image, segPath, params); err != nil {
		return fmt.Errorf("encode slide %d: %w", r.seg.Index, err)
	}
	paths[pos] = segPath
	p.log.Debug().Int("slide", r.seg.Index).Float64("duration", duration).Msg("segment ready")
	return nil
}

// position maps a slide index to its place in plan.Segments, which skips
// slides without screen time.
func (p *Project) position(plan *Plan, index int) int {
	for i, s := range plan.Segments {
		if s.Index == index {
			return i
		}
	}
	return index
}

func (p *Project) concatOptions(plan *Plan) video.ConcatOptions {
	durations := make([]float64, len(plan.Segments))
	for i, s := range plan.Segments {
		durations[i] = s.Duration
	}
	return video.ConcatOptions{
		Audio:        plan.Audio,
		Transition:   plan.Transition,
		FadeDuration: plan.FadeDuration,
		Durations:    durations,
	}
}
