package scene

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Camera is a perspective camera.
type Camera struct {
	FOV    float32 // vertical, degrees
	Aspect float32
	Near   float32
	Far    float32

	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3
}

// NewClassroomCamera frames the whiteboard from a seated student's eye.
func NewClassroomCamera(width, height int) *Camera {
	c := &Camera{
		FOV:      75,
		Near:     0.1,
		Far:      10000,
		Position: mgl32.Vec3{-0.8, 1.7, 0},
		Target:   mgl32.Vec3{-20, -0.6, -0.6},
		Up:       mgl32.Vec3{0, 1, 0},
	}
	c.Resize(width, height)
	return c
}

// Resize updates the aspect ratio; zero sizes are ignored.
func (c *Camera) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.Aspect = float32(width) / float32(height)
}

func (c *Camera) Projection() mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(c.FOV), c.Aspect, c.Near, c.Far)
}

func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Target, c.Up)
}

// ViewProjection is Projection * View.
func (c *Camera) ViewProjection() mgl32.Mat4 {
	return c.Projection().Mul4(c.View())
}

// Project maps a world point to normalized device coordinates and reports
// whether it lies in front of the camera.
func (c *Camera) Project(p mgl32.Vec3) (mgl32.Vec3, bool) {
	clip := c.ViewProjection().Mul4x1(p.Vec4(1))
	if clip.W() <= 0 {
		return mgl32.Vec3{}, false
	}
	return clip.Vec3().Mul(1 / clip.W()), true
}
