package scene

import (
	"sync"

	"github.com/ivlev/lecture3d/internal/metrics"
)

// Frame is everything a renderer needs to draw one frame.
type Frame struct {
	Index      uint64
	Time       float64
	Scene      *Scene
	Camera     *Camera
	Whiteboard *Whiteboard
	Weights    map[string]float64 // running clip name -> blend weight
}

// Renderer draws frames. Render is only ever called from the session's
// event loop, one frame at a time.
type Renderer interface {
	Render(f Frame) error
	SetSize(width, height int)
	Dispose() error
}

// FrameInfo is a copy of what the headless renderer last drew.
type FrameInfo struct {
	Index    uint64             `json:"index"`
	Time     float64            `json:"time"`
	Slide    string             `json:"slide"`
	Weights  map[string]float64 `json:"weights"`
	Width    int                `json:"width"`
	Height   int                `json:"height"`
	Disposed bool               `json:"disposed"`
}

// Headless is a Renderer that draws nothing and records each frame. It is
// safe to read from other goroutines.
type Headless struct {
	mu       sync.Mutex
	frames   uint64
	last     FrameInfo
	width    int
	height   int
	disposed bool
}

func NewHeadless(width, height int) *Headless {
	return &Headless{width: width, height: height}
}

func (h *Headless) Render(f Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return nil
	}
	h.frames++
	weights := make(map[string]float64, len(f.Weights))
	for k, v := range f.Weights {
		weights[k] = v
	}
	h.last = FrameInfo{
		Index:   f.Index,
		Time:    f.Time,
		Weights: weights,
		Width:   h.width,
		Height:  h.height,
	}
	if f.Whiteboard != nil {
		h.last.Slide = f.Whiteboard.URL()
	}
	metrics.Frames.Inc()
	return nil
}

func (h *Headless) SetSize(width, height int) {
	h.mu.Lock()
	h.width, h.height = width, height
	h.mu.Unlock()
}

func (h *Headless) Dispose() error {
	h.mu.Lock()
	h.disposed = true
	h.mu.Unlock()
	return nil
}

func (h *Headless) Frames() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames
}

func (h *Headless) Last() FrameInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	info := h.last
	info.Disposed = h.disposed
	return info
}
