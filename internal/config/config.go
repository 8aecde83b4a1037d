// Package config loads lecture3d settings from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// LECTURE3D_ANIMATION_CROSS_FADE=500ms.
const EnvPrefix = "LECTURE3D"

type Config struct {
	Scene     SceneConfig     `mapstructure:"scene"`
	Slides    SlidesConfig    `mapstructure:"slides"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Animation AnimationConfig `mapstructure:"animation"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Render    RenderConfig    `mapstructure:"render"`
}

// SceneConfig describes the classroom scene and its static assets.
type SceneConfig struct {
	AssetRoot   string `mapstructure:"asset_root"` // local directory that "/models/..." paths resolve against
	RoomAsset   string `mapstructure:"room_asset"`
	AvatarAsset string `mapstructure:"avatar_asset"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	FPS         int    `mapstructure:"fps"`
}

// SlidesConfig controls the whiteboard texture pipeline.
type SlidesConfig struct {
	Width             int           `mapstructure:"width"`
	Height            int           `mapstructure:"height"`
	Anisotropy        int           `mapstructure:"anisotropy"`
	Mipmaps           bool          `mapstructure:"mipmaps"`
	WhiteboardTimeout time.Duration `mapstructure:"whiteboard_timeout"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	PDFDPI            int           `mapstructure:"pdf_dpi"`
	MaxPixels         int           `mapstructure:"max_pixels"`
}

type AudioConfig struct {
	TimeUpdateInterval time.Duration `mapstructure:"time_update_interval"`
	FFprobe            string        `mapstructure:"ffprobe"`
}

// AnimationConfig configures the avatar state machine. Roles maps a semantic
// role ("idle", "speaking") to a clip name; unmapped roles fall back to
// name matching.
type AnimationConfig struct {
	CrossFade time.Duration     `mapstructure:"cross_fade"`
	Roles     map[string]string `mapstructure:"roles"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	PublicURL  string `mapstructure:"public_url"`
	ShowQRCode bool   `mapstructure:"show_qr_code"`
}

// RenderConfig is used by the build and export commands.
type RenderConfig struct {
	Workers      int    `mapstructure:"workers"`
	FPS          int    `mapstructure:"fps"`
	VideoEncoder string `mapstructure:"video_encoder"`
	Quality      int    `mapstructure:"quality"`
	ShowStats    bool   `mapstructure:"show_stats"`

	// Transition is an ffmpeg xfade name ("fade", "wipeleft", ...) or
	// "none". Only lecture-mode exports cross-fade.
	Transition   string  `mapstructure:"transition"`
	FadeDuration float64 `mapstructure:"fade_duration"`

	// SilentDwell is how long a slide without audio stays up, live and
	// exported.
	SilentDwell time.Duration `mapstructure:"silent_dwell"`
}

// SegmentParams describes one encoded video segment of an exported lecture.
type SegmentParams struct {
	Width, Height int
	FPS           int
	Duration      float64
	PageIndex     int

	// Audio is a local file muxed into the segment. With PadAudio set and
	// no Audio, a silent track is generated so segments concatenate.
	Audio    string
	PadAudio bool
}

func Default() *Config {
	return &Config{
		Scene: SceneConfig{
			AssetRoot:   "public",
			RoomAsset:   "/models/basic_classroom.glb",
			AvatarAsset: "/models/lecturer.glb",
			Width:       640,
			Height:      360,
			FPS:         60,
		},
		Slides: SlidesConfig{
			Width:             1920,
			Height:            1080,
			Anisotropy:        16,
			Mipmaps:           true,
			WhiteboardTimeout: 5 * time.Second,
			FetchTimeout:      15 * time.Second,
			PDFDPI:            150,
			MaxPixels:         64 << 20,
		},
		Audio: AudioConfig{
			TimeUpdateInterval: 250 * time.Millisecond,
			FFprobe:            "ffprobe",
		},
		Animation: AnimationConfig{
			CrossFade: 300 * time.Millisecond,
			Roles:     map[string]string{},
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Server: ServerConfig{
			Addr:       ":8085",
			ShowQRCode: true,
		},
		Render: RenderConfig{
			Workers:      4,
			FPS:          30,
			Quality:      0,
			Transition:   "none",
			FadeDuration: 0.5,
			SilentDwell:  5 * time.Second,
		},
	}
}

// Load reads the config file at path (or ./lecture3d.yaml when path is
// empty) and applies environment overrides on top of Default. A missing
// default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lecture3d")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("scene.asset_root", cfg.Scene.AssetRoot)
	v.SetDefault("scene.room_asset", cfg.Scene.RoomAsset)
	v.SetDefault("scene.avatar_asset", cfg.Scene.AvatarAsset)
	v.SetDefault("scene.width", cfg.Scene.Width)
	v.SetDefault("scene.height", cfg.Scene.Height)
	v.SetDefault("scene.fps", cfg.Scene.FPS)

	v.SetDefault("slides.width", cfg.Slides.Width)
	v.SetDefault("slides.height", cfg.Slides.Height)
	v.SetDefault("slides.anisotropy", cfg.Slides.Anisotropy)
	v.SetDefault("slides.mipmaps", cfg.Slides.Mipmaps)
	v.SetDefault("slides.whiteboard_timeout", cfg.Slides.WhiteboardTimeout)
	v.SetDefault("slides.fetch_timeout", cfg.Slides.FetchTimeout)
	v.SetDefault("slides.pdf_dpi", cfg.Slides.PDFDPI)
	v.SetDefault("slides.max_pixels", cfg.Slides.MaxPixels)

	v.SetDefault("audio.time_update_interval", cfg.Audio.TimeUpdateInterval)
	v.SetDefault("audio.ffprobe", cfg.Audio.FFprobe)

	v.SetDefault("animation.cross_fade", cfg.Animation.CrossFade)
	v.SetDefault("animation.roles", cfg.Animation.Roles)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.dir", cfg.Log.Dir)
	v.SetDefault("log.console", cfg.Log.Console)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.public_url", cfg.Server.PublicURL)
	v.SetDefault("server.show_qr_code", cfg.Server.ShowQRCode)

	v.SetDefault("render.workers", cfg.Render.Workers)
	v.SetDefault("render.fps", cfg.Render.FPS)
	v.SetDefault("render.video_encoder", cfg.Render.VideoEncoder)
	v.SetDefault("render.quality", cfg.Render.Quality)
	v.SetDefault("render.show_stats", cfg.Render.ShowStats)
	v.SetDefault("render.transition", cfg.Render.Transition)
	v.SetDefault("render.fade_duration", cfg.Render.FadeDuration)
	v.SetDefault("render.silent_dwell", cfg.Render.SilentDwell)
}

// Validate rejects settings the pipeline cannot work with.
func (c *Config) Validate() error {
	if c.Slides.Width <= 0 || c.Slides.Height <= 0 {
		return fmt.Errorf("slides canvas must be positive, got %dx%d", c.Slides.Width, c.Slides.Height)
	}
	if c.Scene.FPS <= 0 {
		return fmt.Errorf("scene.fps must be positive, got %d", c.Scene.FPS)
	}
	if c.Animation.CrossFade < 0 {
		return fmt.Errorf("animation.cross_fade must not be negative, got %s", c.Animation.CrossFade)
	}
	if c.Slides.WhiteboardTimeout <= 0 {
		return fmt.Errorf("slides.whiteboard_timeout must be positive, got %s", c.Slides.WhiteboardTimeout)
	}
	if c.Audio.TimeUpdateInterval <= 0 {
		return fmt.Errorf("audio.time_update_interval must be positive, got %s", c.Audio.TimeUpdateInterval)
	}
	if c.Render.FadeDuration < 0 {
		return fmt.Errorf("render.fade_duration must not be negative, got %f", c.Render.FadeDuration)
	}
	return nil
}
