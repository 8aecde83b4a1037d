// Package video encodes exported lectures with ffmpeg.
package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ivlev/lecture3d/internal/config"
)

type Encoder interface {
	EncodeSegment(ctx context.Context, img image.Image, videoPath string, params config.SegmentParams) error
	Concatenate(ctx context.Context, segmentPaths []string, finalPath string, tmpDir string, opts ConcatOptions) error
}

// ConcatOptions controls how segments are joined into the final video.
type ConcatOptions struct {
	// Audio is muxed over the joined video; the output ends with the
	// shorter of the two.
	Audio string
	// Transition is an xfade name; "" or "none" joins hard.
	Transition   string
	FadeDuration float64
	// Durations are the on-screen times of the segments, without the
	// transition overlap. Needed for xfade offsets.
	Durations []float64
}

func (o ConcatOptions) crossFades(n int) bool {
	return o.Transition != "" && o.Transition != "none" && o.FadeDuration > 0 && n > 1
}

// FFmpegEncoder shells out to ffmpeg. Codec and Quality come from
// system.GetBestH264Encoder when left empty by the caller.
type FFmpegEncoder struct {
	Binary  string
	Codec   string
	Quality int
}

func NewFFmpegEncoder(codec string, quality int) *FFmpegEncoder {
	if codec == "" {
		codec = "libx264"
	}
	return &FFmpegEncoder{Binary: "ffmpeg", Codec: codec, Quality: quality}
}

func (e *FFmpegEncoder) binary() string {
	if e.Binary == "" {
		return "ffmpeg"
	}
	return e.Binary
}

// EncodeSegment streams img once as raw RGBA over stdin; the loop filter
// holds it for params.Duration.
func (e *FFmpegEncoder) EncodeSegment(ctx context.Context, img image.Image, videoPath string, params config.SegmentParams) error {
	inputW, inputH := img.Bounds().Dx(), img.Bounds().Dy()
	args := e.segmentArgs(inputW, inputH, videoPath, params)

	cmd := exec.CommandContext(ctx, e.binary(), args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	if err := writeRawRGBA(stdin, img); err != nil {
		stdin.Close()
		cmd.Wait()
		return fmt.Errorf("write raw frame: %w", err)
	}
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg segment %d: %w, output: %s", params.PageIndex, err, lastLines(out.String(), 5))
	}
	return nil
}

func (e *FFmpegEncoder) segmentArgs(inputW, inputH int, videoPath string, params config.SegmentParams) []string {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", inputW, inputH),
		"-framerate", fmt.Sprintf("%d", params.FPS),
		"-i", "-",
	}

	hasAudio := params.Audio != "" || params.PadAudio
	switch {
	case params.Audio != "":
		args = append(args, "-i", params.Audio)
	case params.PadAudio:
		args = append(args, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100")
	}

	args = append(args,
		"-vf", segmentFilter(params),
		"-t", fmt.Sprintf("%f", params.Duration),
		"-r", fmt.Sprintf("%d", params.FPS),
		"-pix_fmt", "yuv420p",
		"-c:v", e.Codec,
	)
	args = append(args, qualityArgs(e.Codec, e.Quality)...)

	if hasAudio {
		args = append(args, "-map", "0:v", "-map", "1:a", "-c:a", "aac", "-ar", "44100", "-ac", "2")
	}
	return append(args, videoPath)
}

// segmentFilter repeats the single input frame and letterboxes it onto the
// output canvas.
func segmentFilter(p config.SegmentParams) string {
	return fmt.Sprintf(
		"loop=loop=-1:size=1:start=0,scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=white,setsar=1",
		p.Width, p.Height, p.Width, p.Height,
	)
}

func qualityArgs(codec string, quality int) []string {
	switch codec {
	case "h264_videotoolbox":
		// VideoToolbox does not accept -q:v everywhere; 75 maps to 7.5 Mbit/s.
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	default: // libx264
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

func writeRawRGBA(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix)
	return err
}

// Concatenate joins segments. Without a transition or extra audio the
// concat demuxer copies streams; otherwise a filter graph re-encodes.
func (e *FFmpegEncoder) Concatenate(ctx context.Context, segmentPaths []string, finalPath string, tmpDir string, opts ConcatOptions) error {
	if len(segmentPaths) == 0 {
		return fmt.Errorf("no segments to concatenate")
	}

	if !opts.crossFades(len(segmentPaths)) && opts.Audio == "" {
		listPath := filepath.Join(tmpDir, "inputs.txt")
		if err := writeConcatList(listPath, segmentPaths); err != nil {
			return err
		}
		cmd := exec.CommandContext(ctx, e.binary(), "-y",
			"-f", "concat", "-safe", "0", "-i", listPath,
			"-c", "copy", finalPath,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("ffmpeg concat: %w, output: %s", err, lastLines(string(out), 5))
		}
		return nil
	}

	args := e.concatArgs(segmentPaths, finalPath, opts)
	cmd := exec.CommandContext(ctx, e.binary(), args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg join: %w, output: %s", err, lastLines(string(out), 5))
	}
	return nil
}

func writeConcatList(path string, segmentPaths []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, p := range segmentPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		fmt.Fprintf(f, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return f.Close()
}

func (e *FFmpegEncoder) concatArgs(segmentPaths []string, finalPath string, opts ConcatOptions) []string {
	args := []string{"-y"}
	for _, p := range segmentPaths {
		args = append(args, "-i", p)
	}

	audioIndex := -1
	if opts.Audio != "" {
		audioIndex = len(segmentPaths)
		args = append(args, "-i", opts.Audio)
	}

	var graph []string
	lastOut := "[0:v]"

	if opts.crossFades(len(segmentPaths)) {
		offset := 0.0
		for i := 1; i < len(segmentPaths); i++ {
			if i-1 < len(opts.Durations) {
				offset += opts.Durations[i-1]
			}
			out := fmt.Sprintf("[v%d]", i)
			graph = append(graph, fmt.Sprintf("%s[%d:v]xfade=transition=%s:duration=%f:offset=%f%s",
				lastOut, i, opts.Transition, opts.FadeDuration, offset, out))
			lastOut = out
		}
	} else if len(segmentPaths) > 1 {
		var in strings.Builder
		for i := range segmentPaths {
			fmt.Fprintf(&in, "[%d:v]", i)
		}
		graph = append(graph, fmt.Sprintf("%sconcat=n=%d:v=1:a=0[vconcat]", in.String(), len(segmentPaths)))
		lastOut = "[vconcat]"
	}

	if len(graph) > 0 {
		args = append(args, "-filter_complex", strings.Join(graph, ";"))
	} else {
		lastOut = "0:v"
	}

	args = append(args, "-map", lastOut)
	if audioIndex >= 0 {
		args = append(args, "-map", fmt.Sprintf("%d:a", audioIndex), "-c:a", "aac", "-shortest")
	}

	args = append(args, "-c:v", e.Codec, "-pix_fmt", "yuv420p")
	args = append(args, qualityArgs(e.Codec, e.Quality)...)
	return append(args, finalPath)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
