package segment

// Word-parallel byte comparisons over two little-endian 4-byte pixels packed
// in a uint64. Each byte lane yields its result in its high bit.

const (
	highBits  = 0x8080808080808080
	lowPixel  = 0x0000000080808080
	highPixel = 0x8080808000000000
)

// wordBox holds per-lane bounds for two pixels. The alpha lanes span the whole
// range so they always pass.
type wordBox struct{ lo, hi uint64 }

func newWordBox(b box, ro, gO, bo int) wordBox {
	var lo, hi [4]byte
	hi[0], hi[1], hi[2], hi[3] = 0xff, 0xff, 0xff, 0xff
	lo[ro], hi[ro] = b.lo.R, b.hi.R
	lo[gO], hi[gO] = b.lo.G, b.hi.G
	lo[bo], hi[bo] = b.lo.B, b.hi.B
	pack := func(p [4]byte) uint64 {
		v := uint64(p[0]) | uint64(p[1])<<8 | uint64(p[2])<<16 | uint64(p[3])<<24
		return v | v<<32
	}
	return wordBox{lo: pack(lo), hi: pack(hi)}
}

// contains sets the high bit of every lane where lo <= word <= hi.
func (b wordBox) contains(word uint64) uint64 {
	return geBytes(word, b.lo) & geBytes(b.hi, word)
}

// geBytes sets the high bit of each byte lane where x >= y, unsigned.
func geBytes(x, y uint64) uint64 {
	t := (x | highBits) - (y &^ highBits)
	return ((x &^ y) | (^(x ^ y) & t)) & highBits
}
