package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SlideTextures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecture3d_slide_textures_total",
			Help: "Slide texture preparations by source kind and result",
		},
		[]string{"kind", "result"},
	)

	SlidePrepareDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lecture3d_slide_prepare_duration_seconds",
			Help:    "Time from slide request to ready texture",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"kind"},
	)

	LiveTextures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lecture3d_live_textures",
			Help: "Textures created and not yet disposed",
		},
	)

	AssetLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecture3d_asset_loads_total",
			Help: "Scene asset loads by asset role and result",
		},
		[]string{"asset", "result"},
	)

	Frames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lecture3d_frames_total",
			Help: "Rendered frames",
		},
	)

	CrossFades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecture3d_animation_crossfades_total",
			Help: "Avatar animation cross-fades by target clip",
		},
		[]string{"clip"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lecture3d_active_sessions",
			Help: "Scene sessions created and not yet disposed",
		},
	)

	PlaybackRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lecture3d_playback_rejections_total",
			Help: "Play requests rejected by the media backend",
		},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lecture3d_stream_clients",
			Help: "Connected event stream websocket clients",
		},
	)
)
