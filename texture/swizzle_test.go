package texture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMortonTables(t *testing.T) {
	// The first few entries of the within-tile z-order curve.
	require.EqualValues(t, 0, mortonX[0])
	require.EqualValues(t, 0, mortonY[0])
	require.EqualValues(t, 1, mortonX[1])
	require.EqualValues(t, 0, mortonY[1])
	require.EqualValues(t, 0, mortonX[2])
	require.EqualValues(t, 1, mortonY[2])
	require.EqualValues(t, 7, mortonX[63])
	require.EqualValues(t, 7, mortonY[63])

	seen := map[[2]uint32]bool{}
	for i := 0; i < tilePixels; i++ {
		seen[[2]uint32{mortonX[i], mortonY[i]}] = true
	}
	require.Len(t, seen, tilePixels)
}

func TestUnswizzlePlacesTilePixels(t *testing.T) {
	const width, height, bpp = 16, 8, 16

	tiled := make([]byte, width*height*bpp/8)
	// Pixel 0 of tile 0 and pixel 0 of tile 1.
	tiled[0] = 0x11
	tiled[1] = 0x22
	secondTile := tilePixels * bpp / 8
	tiled[secondTile] = 0x33
	tiled[secondTile+1] = 0x44

	linear := make([]byte, len(tiled))
	Unswizzle(width, height, bpp, tiled, linear)

	// Tile 0 pixel (0,0) lands at linear (0,0); tile 1 at (8,0).
	require.Equal(t, byte(0x11), linear[0])
	require.Equal(t, byte(0x22), linear[1])
	require.Equal(t, byte(0x33), linear[8*2])
	require.Equal(t, byte(0x44), linear[8*2+1])
}

func TestSwizzleRoundTrip(t *testing.T) {
	for _, bpp := range []uint32{4, 8, 16, 24, 32} {
		const width, height = 16, 16

		linear := make([]byte, width*height*bpp/8)
		for i := range linear {
			linear[i] = byte(i*7 + 3)
		}

		tiled := make([]byte, len(linear))
		Swizzle(width, height, bpp, linear, tiled)

		back := make([]byte, len(linear))
		Unswizzle(width, height, bpp, tiled, back)

		require.Equal(t, linear, back, "bpp=%d", bpp)
	}
}

func TestFormatProperties(t *testing.T) {
	require.EqualValues(t, 32, FormatRGBA8.BitsPerPixel())
	require.EqualValues(t, 24, FormatRGB8.BitsPerPixel())
	require.EqualValues(t, 4, FormatI4.BitsPerPixel())
	require.EqualValues(t, 32, FormatD24S8.BitsPerPixel())
	require.EqualValues(t, 0, FormatInvalid.BitsPerPixel())

	require.Equal(t, KindColor, KindFromFormat(FormatRGB565))
	require.Equal(t, KindTexture, KindFromFormat(FormatETC1))
	require.Equal(t, KindDepth, KindFromFormat(FormatD16))
	require.Equal(t, KindDepthStencil, KindFromFormat(FormatD24S8))
	require.Equal(t, KindInvalid, KindFromFormat(FormatInvalid))
}

func TestMakeClearValue(t *testing.T) {
	depth := MakeClearValue(KindDepth, FormatD16, []byte{0xFF, 0xFF})
	require.InDelta(t, 1.0, depth.Depth, 1e-6)

	ds := MakeClearValue(KindDepthStencil, FormatD24S8, []byte{0xFF, 0xFF, 0xFF, 0x80})
	require.InDelta(t, 1.0, ds.Depth, 1e-6)
	require.Equal(t, uint8(0x80), ds.Stencil)

	color := MakeClearValue(KindColor, FormatRGBA8, []byte{0x00, 0xFF, 0x00, 0xFF})
	require.InDelta(t, 1.0, color.Color[0], 1e-6) // red byte is last in memory
	require.InDelta(t, 0.0, color.Color[1], 1e-6)
	require.InDelta(t, 1.0, color.Color[2], 1e-6)
	require.InDelta(t, 0.0, color.Color[3], 1e-6)
}
