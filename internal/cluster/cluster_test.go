package cluster

import (
	"image"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/huetrack/internal/segment"
)

func fillRect(m *segment.Mask, x0, y0, x1, y1 int) {
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			m.Set(x, y)
		}
	}
}

func TestBuildSingleBlock(t *testing.T) {
	m := segment.NewMask(64, 64)
	m.Timestamp = time.Unix(10, 0)
	fillRect(m, 5, 5, 14, 14)

	clusters := NewBuilder().Build(m, 4, 1)
	require.Len(t, clusters, 1)

	c := clusters[0]
	assert.Equal(t, 100, c.Pixels)
	assert.InDelta(t, 9.5, c.Centroid.X, 1e-9)
	assert.InDelta(t, 9.5, c.Centroid.Y, 1e-9)
	assert.Equal(t, image.Rect(5, 5, 15, 15), c.Bounds)
	assert.Equal(t, m.Timestamp, c.Timestamp)
}

func TestBuildMergeDistance(t *testing.T) {
	m := segment.NewMask(64, 32)
	fillRect(m, 0, 0, 9, 9)
	fillRect(m, 13, 0, 22, 9) // three empty columns between

	tests := []struct {
		name  string
		dist  float64
		count int
	}{
		{"gap below distance merges", 4, 1},
		{"gap equal to distance merges", 3, 1},
		{"gap above distance splits", 2, 2},
		{"merge disabled", -1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clusters := NewBuilder().Build(m, tt.dist, 1)
			assert.Len(t, clusters, tt.count)
			total := 0
			for _, c := range clusters {
				total += c.Pixels
			}
			assert.Equal(t, 200, total)
		})
	}
}

func TestBuildEightConnectivity(t *testing.T) {
	m := segment.NewMask(8, 8)
	m.Set(0, 0)
	m.Set(1, 1)
	m.Set(2, 2)
	m.Set(3, 1) // reached only as the NE neighbour of (2,2)

	clusters := NewBuilder().Build(m, -1, 1)
	require.Len(t, clusters, 1)
	assert.Equal(t, 4, clusters[0].Pixels)
}

func TestBuildUShapeLabelsOnce(t *testing.T) {
	// Two arms that only meet on the bottom row force a label union.
	m := segment.NewMask(10, 10)
	fillRect(m, 0, 0, 0, 8)
	fillRect(m, 8, 0, 8, 8)
	fillRect(m, 0, 9, 8, 9)

	clusters := NewBuilder().Build(m, -1, 1)
	require.Len(t, clusters, 1)
	assert.Equal(t, 9+9+9, clusters[0].Pixels)
}

func TestBuildMinPixels(t *testing.T) {
	m := segment.NewMask(40, 40)
	fillRect(m, 0, 0, 4, 4)     // 25
	fillRect(m, 20, 20, 21, 21) // 4

	clusters := NewBuilder().Build(m, -1, 10)
	require.Len(t, clusters, 1)
	assert.Equal(t, 25, clusters[0].Pixels)
}

func TestBuildScanOrder(t *testing.T) {
	m := segment.NewMask(50, 50)
	fillRect(m, 30, 2, 32, 4)
	fillRect(m, 2, 10, 4, 12)
	fillRect(m, 10, 2, 12, 4)

	clusters := NewBuilder().Build(m, -1, 1)
	require.Len(t, clusters, 3)
	assert.Equal(t, image.Pt(10, 2), clusters[0].Bounds.Min)
	assert.Equal(t, image.Pt(30, 2), clusters[1].Bounds.Min)
	assert.Equal(t, image.Pt(2, 10), clusters[2].Bounds.Min)
}

func TestBuildMergeTransitive(t *testing.T) {
	m := segment.NewMask(80, 10)
	fillRect(m, 0, 0, 9, 9)
	fillRect(m, 12, 0, 21, 9)
	fillRect(m, 24, 0, 33, 9)
	fillRect(m, 60, 0, 69, 9)

	clusters := NewBuilder().Build(m, 2, 1)
	require.Len(t, clusters, 2)
	assert.Equal(t, 300, clusters[0].Pixels)
	assert.Equal(t, 100, clusters[1].Pixels)
}

func TestBuildMergeGrowsToFixedPoint(t *testing.T) {
	m := segment.NewMask(40, 40)
	fillRect(m, 0, 0, 0, 20)    // vertical bar
	fillRect(m, 3, 0, 20, 0)    // horizontal bar, two columns from the vertical one
	fillRect(m, 18, 18, 19, 19) // only near the merged box, not either bar

	clusters := NewBuilder().Build(m, 2, 1)
	require.Len(t, clusters, 1)
	assert.Equal(t, 21+18+4, clusters[0].Pixels)
	assert.Equal(t, image.Rect(0, 0, 21, 21), clusters[0].Bounds)
}

func TestBuildDeterministicAndConserving(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	m := segment.NewMask(97, 61)
	for i := 0; i < 97*61/3; i++ {
		m.Set(rng.IntN(97), rng.IntN(61))
	}

	b := NewBuilder()
	first := b.Build(m, -1, 0)
	second := b.Build(m, -1, 0)
	assert.Equal(t, first, second)

	total := 0
	for _, c := range first {
		total += c.Pixels
	}
	assert.Equal(t, m.Count(), total)

	merged := b.Build(m, 6, 0)
	total = 0
	for _, c := range merged {
		total += c.Pixels
	}
	assert.Equal(t, m.Count(), total)
	assert.LessOrEqual(t, len(merged), len(first))
}

func TestBuildEmptyMask(t *testing.T) {
	assert.Empty(t, NewBuilder().Build(segment.NewMask(16, 16), 4, 1))
}

func TestCellIDDistinct(t *testing.T) {
	seen := make(map[int64][2]int)
	for x := -20; x <= 20; x++ {
		for y := -20; y <= 20; y++ {
			id := cellID(x, y)
			if prev, ok := seen[id]; ok {
				t.Fatalf("cellID(%d,%d) collides with %v", x, y, prev)
			}
			seen[id] = [2]int{x, y}
		}
	}
	assert.Equal(t, -1, floorDiv(-1, 32))
	assert.Equal(t, 0, floorDiv(31, 32))
}
