package segment

import (
	"math/bits"
	"time"
)

// Mask is a bit-packed foreground map in row-major order.
type Mask struct {
	Width     int
	Height    int
	Timestamp time.Time
	bits      []uint64
}

// NewMask allocates an empty w×h mask.
func NewMask(w, h int) *Mask {
	m := &Mask{}
	m.Reset(w, h)
	return m
}

// Reset clears the mask and resizes it, reusing storage where possible.
func (m *Mask) Reset(w, h int) {
	m.Width, m.Height = w, h
	n := (w*h + 63) / 64
	if cap(m.bits) >= n {
		m.bits = m.bits[:n]
		clear(m.bits)
		return
	}
	m.bits = make([]uint64, n)
}

// Get reports whether (x, y) is foreground. Out-of-bounds is background.
func (m *Mask) Get(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	i := y*m.Width + x
	return m.bits[i>>6]&(1<<(uint(i)&63)) != 0
}

// Set marks (x, y) as foreground.
func (m *Mask) Set(x, y int) {
	i := y*m.Width + x
	m.bits[i>>6] |= 1 << (uint(i) & 63)
}

// Count returns the number of foreground pixels.
func (m *Mask) Count() int {
	n := 0
	for _, w := range m.bits {
		n += bits.OnesCount64(w)
	}
	return n
}

// NextSet returns the first foreground index in [i, end), or end.
func (m *Mask) NextSet(i, end int) int {
	for i < end {
		word := m.bits[i>>6] >> (uint(i) & 63)
		if word != 0 {
			i += bits.TrailingZeros64(word)
			if i < end {
				return i
			}
			return end
		}
		i = (i | 63) + 1
	}
	return end
}

// Equal reports whether two masks have the same size and bits.
func (m *Mask) Equal(o *Mask) bool {
	if m.Width != o.Width || m.Height != o.Height {
		return false
	}
	for i := range m.bits {
		if m.bits[i] != o.bits[i] {
			return false
		}
	}
	return true
}
