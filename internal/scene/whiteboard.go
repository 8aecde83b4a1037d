package scene

import (
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/ivlev/lecture3d/internal/texture"
)

const (
	WhiteboardWidth  = 2.4
	WhiteboardHeight = 2.4 * 9.0 / 16.0
)

// Whiteboard is the slide panel. It holds at most one texture; replacing
// it disposes the previous one.
type Whiteboard struct {
	Node        *Node
	Width       float32
	Height      float32
	Color       color.RGBA
	DoubleSided bool
	ToneMapped  bool

	texture *texture.Texture
}

// NewWhiteboard builds the panel at its fixed pose beside the lecturer.
func NewWhiteboard() *Whiteboard {
	n := NewNode("whiteboard")
	n.Position = mgl32.Vec3{-2.3, 1.7, 0}
	n.SetRotationY(math.Pi / 2)
	return &Whiteboard{
		Node:        n,
		Width:       WhiteboardWidth,
		Height:      WhiteboardHeight,
		Color:       color.RGBA{255, 255, 255, 255},
		DoubleSided: true,
		ToneMapped:  false,
	}
}

// SetTexture shows tex, disposing whatever was shown before.
func (w *Whiteboard) SetTexture(tex *texture.Texture) {
	if w.texture == tex {
		return
	}
	prev := w.texture
	w.texture = tex
	prev.Dispose()
}

func (w *Whiteboard) Texture() *texture.Texture {
	return w.texture
}

// URL returns the URL of the shown slide, or "".
func (w *Whiteboard) URL() string {
	if w.texture == nil {
		return ""
	}
	return w.texture.URL
}

// Dispose releases the current texture.
func (w *Whiteboard) Dispose() {
	w.SetTexture(nil)
}
