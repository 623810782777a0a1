// Package cluster groups foreground pixels of a segmentation mask into
// clusters: 8-connected components, merged when their bounding boxes lie
// within a configured distance of each other.
package cluster

import (
	"image"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/GriffinCanCode/huetrack/internal/segment"
)

// Cluster is a group of foreground pixels.
type Cluster struct {
	Centroid  r2.Vec
	Bounds    image.Rectangle // Max is exclusive
	Pixels    int
	Timestamp time.Time
}

// component is the running aggregate for one connected region.
type component struct {
	minX, minY, maxX, maxY int // inclusive
	pixels                 int
	sumX, sumY             int64
}

func (c *component) add(x, y int) {
	if c.pixels == 0 {
		c.minX, c.minY, c.maxX, c.maxY = x, y, x, y
	} else {
		c.minX = min(c.minX, x)
		c.minY = min(c.minY, y)
		c.maxX = max(c.maxX, x)
		c.maxY = max(c.maxY, y)
	}
	c.pixels++
	c.sumX += int64(x)
	c.sumY += int64(y)
}

func (c *component) absorb(o *component) {
	c.minX = min(c.minX, o.minX)
	c.minY = min(c.minY, o.minY)
	c.maxX = max(c.maxX, o.maxX)
	c.maxY = max(c.maxY, o.maxY)
	c.pixels += o.pixels
	c.sumX += o.sumX
	c.sumY += o.sumY
}

// gap is the Euclidean length of the empty columns and rows between boxes.
// Touching or overlapping boxes have gap 0.
func (c *component) gap(o *component) float64 {
	gx := max(0, o.minX-c.maxX-1, c.minX-o.maxX-1)
	gy := max(0, o.minY-c.maxY-1, c.minY-o.maxY-1)
	return math.Hypot(float64(gx), float64(gy))
}

// Builder labels masks into clusters. Scratch buffers are reused across calls,
// so a Builder is not safe for concurrent use.
type Builder struct {
	labels []int32
	parent []int32
	index  map[int32]int
	comps  []component
	grid   *grid
}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{index: make(map[int32]int), grid: newGrid()}
}

// Build returns the clusters of m in row-major order of their first pixel.
// A negative mergeDistance disables the bounding-box merge. Clusters with
// fewer than minPixels pixels are discarded.
func (b *Builder) Build(m *segment.Mask, mergeDistance float64, minPixels int) []Cluster {
	b.label(m)
	if mergeDistance >= 0 && len(b.comps) > 1 {
		b.merge(mergeDistance)
	}

	out := make([]Cluster, 0, len(b.comps))
	for i := range b.comps {
		c := &b.comps[i]
		if c.pixels == 0 || c.pixels < minPixels {
			continue
		}
		n := float64(c.pixels)
		out = append(out, Cluster{
			Centroid:  r2.Vec{X: float64(c.sumX) / n, Y: float64(c.sumY) / n},
			Bounds:    image.Rect(c.minX, c.minY, c.maxX+1, c.maxY+1),
			Pixels:    c.pixels,
			Timestamp: m.Timestamp,
		})
	}
	return out
}

// label runs two-pass connected-component labelling with union-find and
// fills b.comps ordered by first pixel in scan order.
func (b *Builder) label(m *segment.Mask) {
	w, h := m.Width, m.Height
	if n := w * h; cap(b.labels) < n {
		b.labels = make([]int32, n)
	} else {
		b.labels = b.labels[:n]
	}
	b.parent = append(b.parent[:0], 0)

	for y := 0; y < h; y++ {
		rowStart := y * w
		for i := m.NextSet(rowStart, rowStart+w); i < rowStart+w; i = m.NextSet(i+1, rowStart+w) {
			x := i - rowStart
			var lbl int32
			for _, d := range [4][2]int{{-1, 0}, {-1, -1}, {0, -1}, {1, -1}} {
				nx, ny := x+d[0], y+d[1]
				if !m.Get(nx, ny) {
					continue
				}
				nl := b.find(b.labels[ny*w+nx])
				switch {
				case lbl == 0:
					lbl = nl
				case nl != lbl:
					lbl = b.union(lbl, nl)
				}
			}
			if lbl == 0 {
				lbl = int32(len(b.parent))
				b.parent = append(b.parent, lbl)
			}
			b.labels[i] = lbl
		}
	}

	clear(b.index)
	b.comps = b.comps[:0]
	for y := 0; y < h; y++ {
		rowStart := y * w
		for i := m.NextSet(rowStart, rowStart+w); i < rowStart+w; i = m.NextSet(i+1, rowStart+w) {
			root := b.find(b.labels[i])
			ci, ok := b.index[root]
			if !ok {
				ci = len(b.comps)
				b.index[root] = ci
				b.comps = append(b.comps, component{})
			}
			b.comps[ci].add(i-rowStart, y)
		}
	}
}

func (b *Builder) find(l int32) int32 {
	for b.parent[l] != l {
		b.parent[l] = b.parent[b.parent[l]]
		l = b.parent[l]
	}
	return l
}

// union links the larger root under the smaller and returns the survivor.
func (b *Builder) union(a, c int32) int32 {
	ra, rc := b.find(a), b.find(c)
	if ra == rc {
		return ra
	}
	if rc < ra {
		ra, rc = rc, ra
	}
	b.parent[rc] = ra
	return ra
}

// merge folds components whose boxes are within dist until no pair remains.
// Survivors keep the lowest index so scan order is preserved; absorbed
// components are left with zero pixels.
func (b *Builder) merge(dist float64) {
	alive := make([]int, len(b.comps))
	for i := range alive {
		alive[i] = i
	}
	for {
		b.grid.reset(dist)
		for _, i := range alive {
			b.grid.insert(i, &b.comps[i])
		}
		merged := false
		for _, i := range alive {
			ci := &b.comps[i]
			if ci.pixels == 0 {
				continue
			}
			for _, j := range b.grid.near(i, ci) {
				cj := &b.comps[j]
				if j <= i || cj.pixels == 0 || ci.gap(cj) > dist {
					continue
				}
				ci.absorb(cj)
				*cj = component{}
				merged = true
			}
		}
		if !merged {
			return
		}
		next := alive[:0]
		for _, i := range alive {
			if b.comps[i].pixels > 0 {
				next = append(next, i)
			}
		}
		alive = next
	}
}
