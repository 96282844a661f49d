package softrun

import (
	"testing"

	"github.com/hostgpu/surfcache/cache"
	"github.com/hostgpu/surfcache/texture"
	"github.com/stretchr/testify/require"
)

func allocate(t *testing.T, r *Runtime, width, height uint32, format texture.PixelFormat) *Texture {
	t.Helper()
	tex, err := r.Allocate(width, height, format, texture.Texture2D)
	require.NoError(t, err)
	return tex.(*Texture)
}

func bytePattern(size int, seed byte) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = seed + byte(i)*7
	}
	return out
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	r := New(nil)
	tex := allocate(t, r, 8, 8, texture.FormatRGBA8)
	rect := texture.Rect{Left: 0, Top: 0, Right: 8, Bottom: 8}

	data := bytePattern(256, 0x13)
	staging := r.FindStaging(256, true)
	copy(staging.Data, data)
	require.NoError(t, r.Upload(tex, texture.BufferCopy{BufferSize: 256, Rect: rect}, staging))
	require.Equal(t, data, tex.Data(0, 0))

	out := r.FindStaging(256, false)
	require.NoError(t, r.Download(tex, texture.BufferCopy{BufferSize: 256, Rect: rect}, out))
	require.Equal(t, data, out.Data[:256])
}

// Guest-sized staging against a higher resolution texture stretches on the
// way in and downsamples on the way out; the round trip is lossless.
func TestScaledUploadDownload(t *testing.T) {
	r := New(nil)
	tex := allocate(t, r, 16, 16, texture.FormatRGBA8)
	rect := texture.Rect{Left: 0, Top: 0, Right: 16, Bottom: 16}

	data := bytePattern(256, 0x31)
	staging := cache.StagingBuffer{Data: append([]byte(nil), data...), Size: 256}
	require.NoError(t, r.Upload(tex, texture.BufferCopy{BufferSize: 256, Rect: rect}, staging))

	out := r.FindStaging(256, false)
	require.NoError(t, r.Download(tex, texture.BufferCopy{BufferSize: 256, Rect: rect}, out))
	require.Equal(t, data, out.Data[:256])
}

func TestBlitFlip(t *testing.T) {
	r := New(nil)
	src := allocate(t, r, 8, 8, texture.FormatRGBA8)
	dst := allocate(t, r, 8, 8, texture.FormatRGBA8)

	data := bytePattern(256, 0x55)
	copy(src.Data(0, 0), data)

	err := r.BlitTextures(src, dst, texture.Blit{
		SrcRect: texture.Rect{Left: 0, Top: 0, Right: 8, Bottom: 8},
		DstRect: texture.Rect{Left: 0, Top: 8, Right: 8, Bottom: 0},
	})
	require.NoError(t, err)

	got := dst.Data(0, 0)
	for y := 0; y < 8; y++ {
		require.Equal(t, data[(7-y)*32:(8-y)*32], got[y*32:(y+1)*32], "row %d", y)
	}
}

func TestBlitScale(t *testing.T) {
	r := New(nil)
	src := allocate(t, r, 4, 4, texture.FormatRGBA8)
	dst := allocate(t, r, 8, 8, texture.FormatRGBA8)

	data := bytePattern(64, 0x77)
	copy(src.Data(0, 0), data)

	err := r.BlitTextures(src, dst, texture.Blit{
		SrcRect: texture.Rect{Left: 0, Top: 0, Right: 4, Bottom: 4},
		DstRect: texture.Rect{Left: 0, Top: 0, Right: 8, Bottom: 8},
	})
	require.NoError(t, err)

	got := dst.Data(0, 0)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			want := data[(y/2*4+x/2)*4 : (y/2*4+x/2)*4+4]
			require.Equal(t, want, got[(y*8+x)*4:(y*8+x)*4+4], "pixel %d,%d", x, y)
		}
	}
}

func TestCopyTexturesRejectsDensityChange(t *testing.T) {
	r := New(nil)
	src := allocate(t, r, 8, 8, texture.FormatRGBA8)
	dst := allocate(t, r, 8, 8, texture.FormatRGB565)

	err := r.CopyTextures(src, dst, texture.Copy{
		Extent: texture.Extent{Width: 8, Height: 8},
	})
	require.Error(t, err)
}

func TestClearTexture(t *testing.T) {
	r := New(nil)
	tex := allocate(t, r, 8, 8, texture.FormatRGB565)

	err := r.ClearTexture(tex, texture.Clear{
		Rect: texture.Rect{Left: 2, Top: 2, Right: 6, Bottom: 6},
	}, texture.ClearValue{Color: [4]float32{1, 0, 0, 1}})
	require.NoError(t, err)

	got := tex.Data(0, 0)
	for y := uint32(0); y < 8; y++ {
		for x := uint32(0); x < 8; x++ {
			off := (y*8 + x) * 2
			if x >= 2 && x < 6 && y >= 2 && y < 6 {
				require.Equal(t, []byte{0x00, 0xF8}, got[off:off+2], "pixel %d,%d", x, y)
			} else {
				require.Equal(t, []byte{0, 0}, got[off:off+2], "pixel %d,%d", x, y)
			}
		}
	}
}

// The clear pattern byte of a 4 bit format covers two pixels.
func TestClearTextureNibbleFormat(t *testing.T) {
	r := New(nil)
	tex := allocate(t, r, 8, 8, texture.FormatI4)

	err := r.ClearTexture(tex, texture.Clear{
		Rect: texture.Rect{Left: 0, Top: 0, Right: 8, Bottom: 8},
	}, texture.ClearValue{Color: [4]float32{1, 1, 1, 1}})
	require.NoError(t, err)

	got := tex.Data(0, 0)
	require.Len(t, got, 32)
	for _, b := range got {
		require.EqualValues(t, 0xFF, b)
	}
}

func TestGenerateMipmaps(t *testing.T) {
	r := New(nil)
	tex := allocate(t, r, 8, 8, texture.FormatRGBA8)

	data := bytePattern(256, 0x21)
	copy(tex.Data(0, 0), data)
	require.NoError(t, r.GenerateMipmaps(tex, 1))

	got := tex.Data(1, 0)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := data[((2*y+1)*8+2*x+1)*4 : ((2*y+1)*8+2*x+1)*4+4]
			require.Equal(t, want, got[(y*4+x)*4:(y*4+x)*4+4], "pixel %d,%d", x, y)
		}
	}
}

func TestReinterpretRGBA4ToRGB5A1(t *testing.T) {
	r := New(nil)
	src := allocate(t, r, 8, 8, texture.FormatRGBA4)
	dst := allocate(t, r, 8, 8, texture.FormatRGB5A1)

	conv := r.Reinterpreters(texture.FormatRGB5A1)
	require.Len(t, conv, 1)
	require.Equal(t, texture.FormatRGBA4, conv[0].SourceFormat())

	// Full red with the alpha high bit set: 0xF008 becomes 0xF801.
	raw := src.Data(0, 0)
	for off := 0; off < len(raw); off += 2 {
		raw[off] = 0x08
		raw[off+1] = 0xF0
	}

	full := texture.Rect{Left: 0, Top: 0, Right: 8, Bottom: 8}
	require.NoError(t, conv[0].Reinterpret(src, full, dst, full))

	got := dst.Data(0, 0)
	for off := 0; off < len(got); off += 2 {
		require.Equal(t, []byte{0x01, 0xF8}, got[off:off+2])
	}
}

func TestScaleFactor(t *testing.T) {
	require.EqualValues(t, 1, scaleFactor(64, 64))
	require.EqualValues(t, 2, scaleFactor(256, 64))
	require.EqualValues(t, 4, scaleFactor(1024, 64))
	require.EqualValues(t, 0, scaleFactor(64, 256))
	require.EqualValues(t, 0, scaleFactor(128, 64))
	require.EqualValues(t, 0, scaleFactor(64, 0))
}

func TestTextureUseAfterRelease(t *testing.T) {
	r := New(nil)
	tex := allocate(t, r, 8, 8, texture.FormatRGBA8)
	tex.Release()

	staging := r.FindStaging(256, true)
	err := r.Upload(tex, texture.BufferCopy{
		BufferSize: 256,
		Rect:       texture.Rect{Left: 0, Top: 0, Right: 8, Bottom: 8},
	}, staging)
	require.Error(t, err)
}
