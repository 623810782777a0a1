package frame

import (
	"sync"
	"time"
)

// Pool recycles pixel buffers of a single size. A size change drops the
// retained buffers.
type Pool struct {
	mu   sync.Mutex
	size int
	free [][]byte
	max  int
}

// NewPool retains at most maxFree idle buffers.
func NewPool(maxFree int) *Pool {
	if maxFree <= 0 {
		maxFree = 4
	}
	return &Pool{max: maxFree}
}

// Get returns a tightly packed frame whose Release puts the buffer back.
func (p *Pool) Get(width, height int, format PixelFormat, ts time.Time) *Frame {
	size := width * height * BytesPerPixel
	buf := p.take(size)
	f := &Frame{
		Pix:       buf,
		Width:     width,
		Height:    height,
		Stride:    width * BytesPerPixel,
		Format:    format,
		Timestamp: ts,
	}
	f.release = func() { p.put(buf) }
	return f
}

func (p *Pool) take(size int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size != p.size {
		p.size = size
		p.free = p.free[:0]
	}
	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]
		return buf
	}
	return make([]byte, size)
}

func (p *Pool) put(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(buf) != p.size || len(p.free) >= p.max {
		return
	}
	p.free = append(p.free, buf)
}

// idle reports the number of retained buffers.
func (p *Pool) idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
