package main

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivlev/lecture3d/internal/deck"
	"github.com/ivlev/lecture3d/internal/logging"
	"github.com/ivlev/lecture3d/internal/system"
)

func newBuildCmd() *cobra.Command {
	var (
		audio        string
		outDir       string
		title        string
		workers      int
		pageDuration float64
		stats        bool
	)

	cmd := &cobra.Command{
		Use:   "build [pdf|dir]",
		Short: "Rasterize a deck into slides and write lecture.yaml",
		Long: `build renders every page of a PDF (or every image in a folder) onto a
fixed-size PNG slide and writes a lecture manifest whose slides are spread
evenly over the audio.

Without arguments the newest PDF in input/pdf is used, and the newest audio
file in input/audio unless --audio is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg

			input := ""
			if len(args) == 1 {
				input = args[0]
			} else {
				if input, err = system.FindLatestPDF("input/pdf"); err != nil {
					return fmt.Errorf("%w (put a PDF into input/pdf or pass a path)", err)
				}
				a.log.Info().Str("input", input).Msg("using newest PDF")
			}
			if audio == "" {
				if latest, err := system.FindLatestAudio("input/audio"); err == nil {
					audio = latest
					a.log.Info().Str("audio", audio).Msg("using newest audio")
				}
			}
			if outDir == "" {
				base := filepath.Base(input)
				name := strings.ReplaceAll(strings.TrimSuffix(base, filepath.Ext(base)), " ", "_")
				outDir = filepath.Join(cfg.Scene.AssetRoot, "lectures", name)
			}
			if workers <= 0 {
				workers = cfg.Render.Workers
			}

			ffprobe := cfg.Audio.FFprobe
			probe := func(ctx context.Context, path string) (float64, error) {
				return system.GetAudioDuration(ctx, ffprobe, path)
			}
			pool := system.DefaultPixelPool()
			started := time.Now()

			b := deck.NewBuilder(deck.Options{
				Input:        input,
				Audio:        audio,
				OutDir:       outDir,
				AssetRoot:    cfg.Scene.AssetRoot,
				Title:        title,
				Width:        cfg.Slides.Width,
				Height:       cfg.Slides.Height,
				DPI:          cfg.Slides.PDFDPI,
				Workers:      workers,
				PageDuration: pageDuration,
			}, probe, pool, logging.Component(a.log.Logger, "deck"))

			res, err := b.Build(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Built %d slides (%s) in %s\n", res.Pages, humanize.Bytes(res.Bytes), res.Took.Round(time.Millisecond))
			fmt.Fprintf(out, "Manifest: %s\n", res.Manifest)
			if stats || cfg.Render.ShowStats {
				fmt.Fprint(out, system.CollectReport(started, pool))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&audio, "audio", "", "lecture audio; slide times are spread over its duration")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default <asset_root>/lectures/<name>)")
	cmd.Flags().StringVar(&title, "title", "", "lecture title (default derived from the input name)")
	cmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "parallel page renderers")
	cmd.Flags().Float64Var(&pageDuration, "page-duration", 5, "seconds per slide when there is no audio")
	cmd.Flags().BoolVar(&stats, "stats", false, "print a resource report")
	return cmd
}
