package cluster

import "math"

// minCellSize keeps the grid coarse when the merge distance is small, so a
// typical component spans only a few cells.
const minCellSize = 32

// grid buckets component boxes into square cells so that merge candidates
// are found without comparing every pair.
type grid struct {
	cellSize int
	reach    int
	cells    map[int64][]int
	seen     map[int]int
	stamp    int
	out      []int
}

func newGrid() *grid {
	return &grid{cells: make(map[int64][]int), seen: make(map[int]int)}
}

func (g *grid) reset(dist float64) {
	g.reach = int(math.Ceil(dist)) + 1
	g.cellSize = max(minCellSize, g.reach)
	clear(g.cells)
}

func (g *grid) insert(idx int, c *component) {
	g.each(c.minX, c.minY, c.maxX, c.maxY, func(id int64) {
		g.cells[id] = append(g.cells[id], idx)
	})
}

// near returns the distinct components sharing a cell with c's box grown by
// the merge reach, excluding self. The slice is reused by the next call.
func (g *grid) near(self int, c *component) []int {
	g.stamp++
	g.out = g.out[:0]
	g.each(c.minX-g.reach, c.minY-g.reach, c.maxX+g.reach, c.maxY+g.reach, func(id int64) {
		for _, j := range g.cells[id] {
			if j == self || g.seen[j] == g.stamp {
				continue
			}
			g.seen[j] = g.stamp
			g.out = append(g.out, j)
		}
	})
	return g.out
}

func (g *grid) each(x0, y0, x1, y1 int, fn func(int64)) {
	cx0, cx1 := floorDiv(x0, g.cellSize), floorDiv(x1, g.cellSize)
	cy0, cy1 := floorDiv(y0, g.cellSize), floorDiv(y1, g.cellSize)
	for cy := cy0; cy <= cy1; cy++ {
		for cx := cx0; cx <= cx1; cx++ {
			fn(cellID(cx, cy))
		}
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// cellID pairs signed cell coordinates into one key: zigzag to non-negative,
// then Szudzik's pairing function.
func cellID(x, y int) int64 {
	zig := func(v int) int64 {
		if v >= 0 {
			return 2 * int64(v)
		}
		return -2*int64(v) - 1
	}
	a, b := zig(x), zig(y)
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}
