package scene

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ivlev/lecture3d/internal/system"
	"github.com/ivlev/lecture3d/internal/texture"
)

func TestWhiteboardPose(t *testing.T) {
	wb := NewWhiteboard()
	assert.InDelta(t, 2.4, wb.Width, 1e-6)
	assert.InDelta(t, 1.35, wb.Height, 1e-6)
	assert.True(t, wb.DoubleSided)
	assert.False(t, wb.ToneMapped)
	vecNear(t, wb.Node.Position, wb.Node.WorldPosition())
}

func TestWhiteboardReplacesAndDisposes(t *testing.T) {
	pool := system.NewPixelPool()
	rect := image.Rect(0, 0, 4, 4)
	a := texture.New("a.svg", pool.Get(rect), pool)
	b := texture.New("b.svg", pool.Get(rect), pool)

	wb := NewWhiteboard()
	wb.SetTexture(a)
	assert.Equal(t, "a.svg", wb.URL())

	wb.SetTexture(a)
	assert.False(t, a.Disposed(), "re-applying the same texture keeps it")

	wb.SetTexture(b)
	assert.True(t, a.Disposed())
	assert.False(t, b.Disposed())
	assert.Equal(t, int64(1), pool.Outstanding())

	wb.Dispose()
	assert.True(t, b.Disposed())
	assert.Empty(t, wb.URL())
	assert.Zero(t, pool.Outstanding())
}
