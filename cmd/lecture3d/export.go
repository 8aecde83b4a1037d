package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/lecture3d/internal/export"
	"github.com/ivlev/lecture3d/internal/lecture"
	"github.com/ivlev/lecture3d/internal/logging"
	"github.com/ivlev/lecture3d/internal/source"
	"github.com/ivlev/lecture3d/internal/system"
	"github.com/ivlev/lecture3d/internal/texture"
	"github.com/ivlev/lecture3d/internal/video"
)

func newExportCmd() *cobra.Command {
	var (
		output     string
		transition string
		fps        int
		stats      bool
	)

	cmd := &cobra.Command{
		Use:   "export <manifest>",
		Short: "Render a lecture to MP4 with ffmpeg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg
			ctx := cmd.Context()

			lec, err := lecture.Load(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				name := lec.ID
				if name == "" {
					name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				}
				if err := os.MkdirAll("output", 0755); err != nil {
					return err
				}
				output = filepath.Join("output", fmt.Sprintf("%s_%s.mp4", name, time.Now().Format("2006-01-02_15-04-05")))
			}
			if transition != "" {
				cfg.Render.Transition = transition
			}
			if fps > 0 {
				cfg.Render.FPS = fps
			}

			codec, quality := cfg.Render.VideoEncoder, cfg.Render.Quality
			if codec == "" {
				codec, quality = system.GetBestH264Encoder(ctx)
				if codec != "libx264" {
					a.log.Info().Str("encoder", codec).Msg("hardware encoder found")
				}
			}
			if quality == 0 {
				quality = system.DefaultQuality(codec)
			}

			files := &source.FileFetcher{Root: cfg.Scene.AssetRoot}
			fetcher := &source.Router{
				HTTP: source.NewHTTPFetcher("", cfg.Slides.FetchTimeout),
				File: files,
			}
			pool := system.DefaultPixelPool()
			slideOpts := texture.OptionsFromConfig(cfg.Slides)
			slideOpts.Mipmaps = false
			pipeline := texture.NewPipeline(fetcher, pool, slideOpts, logging.Component(a.log.Logger, "texture"))

			ffprobe := cfg.Audio.FFprobe
			probe := func(ctx context.Context, path string) (float64, error) {
				return system.GetAudioDuration(ctx, ffprobe, path)
			}

			started := time.Now()
			project := export.NewProject(lec, pipeline, video.NewFFmpegEncoder(codec, quality), files, probe,
				export.OptionsFromConfig(cfg, output), logging.Component(a.log.Logger, "export"))
			report, err := project.Run(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if stats || cfg.Render.ShowStats {
				fmt.Fprint(out, report)
				fmt.Fprint(out, system.CollectReport(started, pool))
			}
			fmt.Fprintf(out, "Exported: %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output video (default output/<id>_<time>.mp4)")
	cmd.Flags().StringVar(&transition, "transition", "", "xfade transition between slides: fade, wipeleft, dissolve, none")
	cmd.Flags().IntVar(&fps, "fps", 0, "output frame rate (overrides render.fps)")
	cmd.Flags().BoolVar(&stats, "stats", false, "print timing and resource reports")
	return cmd
}
