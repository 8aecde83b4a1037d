package main

import (
	"context"
	"fmt"

	"github.com/ivlev/lecture3d/internal/bus"
	"github.com/ivlev/lecture3d/internal/classroom"
	"github.com/ivlev/lecture3d/internal/lecture"
	"github.com/ivlev/lecture3d/internal/logging"
	"github.com/ivlev/lecture3d/internal/playback"
	"github.com/ivlev/lecture3d/internal/presenter"
	"github.com/ivlev/lecture3d/internal/scene"
	"github.com/ivlev/lecture3d/internal/source"
	"github.com/ivlev/lecture3d/internal/system"
	"github.com/ivlev/lecture3d/internal/texture"
)

// stack is a mounted classroom with a presenter driving it.
type stack struct {
	bus      *bus.EventBus
	renderer *scene.Headless
	room     *classroom.Controller
	pres     *presenter.Presenter
}

func (a *app) mount(ctx context.Context, manifest string) (*stack, error) {
	cfg := a.cfg
	lec, err := lecture.Load(manifest)
	if err != nil {
		return nil, err
	}

	files := &source.FileFetcher{Root: cfg.Scene.AssetRoot}
	fetcher := &source.Router{
		HTTP: source.NewHTTPFetcher("", cfg.Slides.FetchTimeout),
		File: files,
	}
	pipeline := texture.NewPipeline(fetcher, system.DefaultPixelPool(),
		texture.OptionsFromConfig(cfg.Slides), logging.Component(a.log.Logger, "texture"))
	media := playback.NewProbeMedia(cfg.Audio.FFprobe, files)

	s := &stack{
		bus:      bus.NewEventBus(),
		renderer: scene.NewHeadless(cfg.Scene.Width, cfg.Scene.Height),
	}
	s.room, err = classroom.Mount(classroom.Deps{
		Renderer: s.renderer,
		Loader:   &scene.GLTFLoader{Files: files, Fetcher: fetcher},
		Slides:   pipeline,
		Media:    media,
		Bus:      s.bus,
	}, classroom.OptionsFromConfig(cfg), classroom.Props{}, a.log.Logger)
	if err != nil {
		return nil, err
	}

	s.pres = presenter.New(s.room, media, s.bus, presenter.Options{
		TimeUpdateInterval: cfg.Audio.TimeUpdateInterval,
		SilentDwell:        cfg.Render.SilentDwell,
	}, a.log.Logger)
	if err := s.pres.Load(ctx, lec); err != nil {
		s.Close()
		return nil, fmt.Errorf("load %s: %w", manifest, err)
	}

	a.log.Info().
		Str("lecture", lec.ID).
		Str("title", lec.Title).
		Str("mode", lec.Mode().String()).
		Int("slides", len(lec.SlideURLs())).
		Msg("lecture loaded")
	return s, nil
}

// logEvents mirrors bus events into the log. Time updates go to debug.
func (a *app) logEvents(b *bus.EventBus) func() {
	log := logging.Component(a.log.Logger, "events")
	return b.SubscribeAll(func(ev bus.Event) {
		e := log.Info()
		if ev.Type == bus.EventTypeTimeUpdate || ev.Type == bus.EventTypeAvatarAnimation {
			e = log.Debug()
		}
		e.Str("event", string(ev.Type)).Fields(ev.Data).Msg("event")
	})
}

func (s *stack) Close() {
	s.pres.Close()
	s.room.Close()
}
