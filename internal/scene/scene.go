package scene

import (
	"image/color"

	"github.com/go-gl/mathgl/mgl32"
)

type LightKind string

const (
	LightAmbient     LightKind = "ambient"
	LightDirectional LightKind = "directional"
)

type Light struct {
	Kind      LightKind
	Color     color.RGBA
	Intensity float32
	Position  mgl32.Vec3
}

// Scene is the root of the graph plus the environment the renderer needs.
type Scene struct {
	Root       *Node
	Background color.RGBA
	Lights     []Light
}

// NewClassroomScene returns the empty classroom: dark navy background, a
// bright ambient fill and one directional key light.
func NewClassroomScene() *Scene {
	return &Scene{
		Root:       NewNode("scene"),
		Background: color.RGBA{0x1a, 0x1a, 0x2e, 0xff},
		Lights: []Light{
			{Kind: LightAmbient, Color: color.RGBA{255, 255, 255, 255}, Intensity: 1.5},
			{Kind: LightDirectional, Color: color.RGBA{255, 255, 255, 255}, Intensity: 1, Position: mgl32.Vec3{15, 20, 15}},
		},
	}
}
