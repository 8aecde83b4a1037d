package scene

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReadinessResolve(t *testing.T) {
	r := NewReadiness()
	settled, _ := r.Settled()
	assert.False(t, settled)

	go r.Resolve()
	assert.NoError(t, r.Wait(context.Background()))

	r.Fail(errors.New("late"))
	settled, err := r.Settled()
	assert.True(t, settled)
	assert.NoError(t, err, "first settlement wins")
}

func TestReadinessFail(t *testing.T) {
	r := NewReadiness()
	boom := errors.New("room missing")
	r.Fail(boom)
	assert.ErrorIs(t, r.Wait(context.Background()), boom)
}

func TestReadinessWaitTimeout(t *testing.T) {
	r := NewReadiness()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)
}
