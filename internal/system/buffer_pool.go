package system

import (
	"image"
	"sync"
	"sync/atomic"
)

// PixelPool reuses *image.RGBA buffers of equal size across slide changes.
// Outstanding counts buffers handed out and not yet returned.
type PixelPool struct {
	pools map[string]*sync.Pool
	mu    sync.RWMutex

	outstanding atomic.Int64
	allocated   atomic.Int64
}

func NewPixelPool() *PixelPool {
	return &PixelPool{
		pools: make(map[string]*sync.Pool),
	}
}

var defaultPool = NewPixelPool()

// DefaultPixelPool is the process-wide pool used when none is injected.
func DefaultPixelPool() *PixelPool {
	return defaultPool
}

// Get returns a zeroed RGBA buffer covering rect.
func (p *PixelPool) Get(rect image.Rectangle) *image.RGBA {
	key := rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		// Double check
		pool, exists = p.pools[key]
		if !exists {
			pool = &sync.Pool{
				New: func() interface{} {
					p.allocated.Add(1)
					return image.NewRGBA(rect)
				},
			}
			p.pools[key] = pool
		}
		p.mu.Unlock()
	}

	img := pool.Get().(*image.RGBA)
	clear(img.Pix)
	p.outstanding.Add(1)
	return img
}

// Put hands img back. Buffers of a size the pool never issued are dropped.
func (p *PixelPool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	key := img.Rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if exists {
		p.outstanding.Add(-1)
		pool.Put(img)
	}
}

// Outstanding returns the number of buffers currently checked out.
func (p *PixelPool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Allocated returns how many buffers the pool has ever created.
func (p *PixelPool) Allocated() int64 {
	return p.allocated.Load()
}
