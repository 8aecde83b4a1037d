package scene

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/lecture3d/internal/animation"
	"github.com/ivlev/lecture3d/internal/metrics"
	"github.com/ivlev/lecture3d/internal/system"
	"github.com/ivlev/lecture3d/internal/texture"
)

func newTestSession(t *testing.T) (*Session, *Headless) {
	t.Helper()
	r := NewHeadless(0, 0)
	s := Create(r, Options{
		Width:     640,
		Height:    360,
		FPS:       60,
		Animation: animation.Options{CrossFade: 300 * time.Millisecond},
	}, zerolog.Nop())
	t.Cleanup(func() { _ = s.Dispose() })
	return s, r
}

func lecturerAsset() *Asset {
	return &Asset{
		URL:  "/models/lecturer.glb",
		Root: NewNode("lecturer.glb"),
		Clips: []animation.Clip{
			{Name: "Idle", Duration: 2},
			{Name: "Talking", Duration: 3},
		},
	}
}

func TestSessionRoomResolvesReadiness(t *testing.T) {
	s, _ := newTestSession(t)

	settled, _ := s.Ready.Settled()
	assert.False(t, settled)
	assert.Nil(t, s.Whiteboard.Node.Parent(), "whiteboard mounts with the room")

	s.AttachRoom(&Asset{URL: "/models/basic_classroom.glb", Root: NewNode("room")})

	assert.NoError(t, s.Ready.Wait(context.Background()))
	assert.Same(t, s.Scene.Root, s.Whiteboard.Node.Parent())
	assert.NotNil(t, s.Room())
}

func TestSessionRoomFailure(t *testing.T) {
	s, _ := newTestSession(t)
	boom := errors.New("404")
	s.FailRoom(boom)

	err := s.Ready.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSessionAvatarStartsIdle(t *testing.T) {
	s, r := newTestSession(t)

	require.NoError(t, s.AttachAvatar(lecturerAsset()))
	assert.Equal(t, "Idle", s.Avatar.Active())
	vecNear(t, [3]float32{-2, 0, -1.2}, s.AvatarNode().Position)
	vecNear(t, [3]float32{1.1, 1.1, 1.1}, s.AvatarNode().Scale)

	s.Frame(1.0 / 60)
	info := r.Last()
	assert.Equal(t, uint64(1), info.Index)
	assert.InDelta(t, 1.0, info.Weights["Idle"], 1e-9)
	assert.Equal(t, 640, info.Width)

	require.True(t, s.Avatar.SetSpeaking(true))
	s.Frame(0.15)
	info = r.Last()
	assert.InDelta(t, 0.5, info.Weights["Idle"], 1e-6)
	assert.InDelta(t, 0.5, info.Weights["Talking"], 1e-6)

	s.Frame(0.2)
	info = r.Last()
	assert.InDelta(t, 1.0, info.Weights["Talking"], 1e-6)
	_, idleRunning := info.Weights["Idle"]
	assert.False(t, idleRunning, "faded-out clip stops")
}

func TestSessionResize(t *testing.T) {
	s, r := newTestSession(t)
	s.Resize(1280, 720)
	s.Resize(0, 720)
	s.Frame(0.01)
	assert.Equal(t, 1280, r.Last().Width)
	assert.Equal(t, 720, r.Last().Height)
}

func TestSessionFrameClock(t *testing.T) {
	s, r := newTestSession(t)

	tasks := make(chan func(), 16)
	s.StartFrames(func(fn func()) bool {
		select {
		case tasks <- fn:
			return true
		default:
			return false
		}
	})

	deadline := time.After(2 * time.Second)
	for r.Frames() < 3 {
		select {
		case fn := <-tasks:
			fn()
		case <-deadline:
			t.Fatal("frame clock did not tick")
		}
	}
	require.NoError(t, s.Dispose())
}

func TestSessionDispose(t *testing.T) {
	before := testutil.ToFloat64(metrics.ActiveSessions)
	s, r := newTestSession(t)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ActiveSessions))

	pool := system.NewPixelPool()
	tex := texture.New("slide.png", pool.Get(image.Rect(0, 0, 8, 8)), pool)
	s.AttachRoom(&Asset{Root: NewNode("room")})
	s.Whiteboard.SetTexture(tex)

	require.NoError(t, s.Dispose())
	require.NoError(t, s.Dispose())

	assert.False(t, s.Live())
	assert.True(t, tex.Disposed())
	assert.Zero(t, pool.Outstanding())
	assert.True(t, r.Last().Disposed)
	assert.Error(t, s.Context().Err())
	assert.Equal(t, before, testutil.ToFloat64(metrics.ActiveSessions))

	assert.ErrorIs(t, s.AttachAvatar(lecturerAsset()), ErrDisposed)
	s.Frame(0.1)
	assert.Zero(t, r.Frames())
}

func TestSessionDisposeBeforeRoom(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Dispose())
	assert.ErrorIs(t, s.Ready.Wait(context.Background()), ErrDisposed)
}
