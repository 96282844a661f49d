package texture

// TileDim is the edge length of the morton-ordered tile blocks used by
// tiled guest surfaces. Tiled regions are always padded to TileDim-pixel
// multiples on both axes.
const TileDim = 8

// tilePixels is the number of pixels in one tile.
const tilePixels = TileDim * TileDim

// mortonX/mortonY map an index within a tile to its pixel coordinates. The
// even bits of the index hold x, the odd bits y.
var mortonX, mortonY [tilePixels]uint32

func init() {
	for i := uint32(0); i < tilePixels; i++ {
		mortonX[i] = (i & 1) | (i >> 1 & 2) | (i >> 2 & 4)
		mortonY[i] = (i >> 1 & 1) | (i >> 2 & 2) | (i >> 3 & 4)
	}
}

// Unswizzle converts morton tiled pixel data to linear row-major order.
// width and height describe the region being converted and must be
// multiples of TileDim; tiled and linear must each hold
// width*height*bpp/8 bytes.
func Unswizzle(width, height, bpp uint32, tiled, linear []byte) {
	copyTiles(width, height, bpp, tiled, linear, false)
}

// Swizzle converts linear row-major pixel data to the morton tiled layout.
func Swizzle(width, height, bpp uint32, linear, tiled []byte) {
	copyTiles(width, height, bpp, tiled, linear, true)
}

func copyTiles(width, height, bpp uint32, tiled, linear []byte, toTiled bool) {
	if width%TileDim != 0 || height%TileDim != 0 {
		panic("tiled surface dimensions must be multiples of the tile size")
	}

	if bpp == 4 {
		copyTilesNibble(width, height, tiled, linear, toTiled)
		return
	}

	bytesPP := bpp / 8
	tilesX := width / TileDim
	tileBytes := tilePixels * bytesPP

	for ty := uint32(0); ty < height/TileDim; ty++ {
		for tx := uint32(0); tx < tilesX; tx++ {
			tileBase := (ty*tilesX + tx) * tileBytes
			for i := uint32(0); i < tilePixels; i++ {
				px := tx*TileDim + mortonX[i]
				py := ty*TileDim + mortonY[i]
				tiledOff := tileBase + i*bytesPP
				linearOff := (py*width + px) * bytesPP
				if toTiled {
					copy(tiled[tiledOff:tiledOff+bytesPP], linear[linearOff:])
				} else {
					copy(linear[linearOff:linearOff+bytesPP], tiled[tiledOff:])
				}
			}
		}
	}
}

// copyTilesNibble handles the 4-bit formats, which pack two pixels per byte
// with the even pixel in the low nibble.
func copyTilesNibble(width, height uint32, tiled, linear []byte, toTiled bool) {
	tilesX := width / TileDim

	for ty := uint32(0); ty < height/TileDim; ty++ {
		for tx := uint32(0); tx < tilesX; tx++ {
			tileBase := (ty*tilesX + tx) * tilePixels
			for i := uint32(0); i < tilePixels; i++ {
				px := tx*TileDim + mortonX[i]
				py := ty*TileDim + mortonY[i]
				tiledIdx := tileBase + i
				linearIdx := py*width + px
				if toTiled {
					writeNibble(tiled, tiledIdx, readNibble(linear, linearIdx))
				} else {
					writeNibble(linear, linearIdx, readNibble(tiled, tiledIdx))
				}
			}
		}
	}
}

func readNibble(data []byte, idx uint32) byte {
	b := data[idx/2]
	if idx%2 == 0 {
		return b & 0xF
	}
	return b >> 4
}

func writeNibble(data []byte, idx uint32, value byte) {
	if idx%2 == 0 {
		data[idx/2] = data[idx/2]&0xF0 | value&0xF
	} else {
		data[idx/2] = data[idx/2]&0x0F | value<<4
	}
}
