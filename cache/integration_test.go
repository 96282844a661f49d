package cache_test

import (
	"os"
	"testing"

	"github.com/hostgpu/surfcache/cache"
	"github.com/hostgpu/surfcache/softrun"
	"github.com/hostgpu/surfcache/texture"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

const guestBase = 0x18000000

// guestMemory is a flat mapped block of guest physical memory.
type guestMemory struct {
	data []byte
}

func (m *guestMemory) PhysicalRef(addr uint32) []byte {
	if addr < guestBase || addr >= guestBase+uint32(len(m.data)) {
		return nil
	}
	return m.data[addr-guestBase:]
}

func (m *guestMemory) MarkRegionCached(addr, size uint32, cached bool) {}

func newIntegrationEnv(t *testing.T) (*cache.SurfaceCache, *guestMemory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout))
	mem := &guestMemory{data: make([]byte, 1<<20)}
	c := cache.New(softrun.New(logger), mem, cache.CreateOptions{Logger: logger})
	return c, mem
}

func pattern(size int, seed byte) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = seed + byte(i)*3
	}
	return out
}

func swizzled(width, height uint32, linear []byte) []byte {
	out := make([]byte, len(linear))
	texture.Swizzle(width, height, 32, linear, out)
	return out
}

func softTexture(t *testing.T, s *cache.Surface) *softrun.Texture {
	t.Helper()
	tex, ok := s.Texture.(*softrun.Texture)
	require.True(t, ok)
	return tex
}

func tiledRGBA8(addr, dim uint32) cache.SurfaceParams {
	p := cache.SurfaceParams{
		Addr:     addr,
		Width:    dim,
		Height:   dim,
		IsTiled:  true,
		Format:   texture.FormatRGBA8,
		ResScale: 1,
	}
	p.UpdateParams()
	return p
}

// Upload unswizzles guest bytes into the texture; a GPU-side write flushed
// back out arrives in guest memory swizzled again.
func TestSwizzleRoundTripThroughGuestMemory(t *testing.T) {
	c, mem := newIntegrationEnv(t)
	params := tiledRGBA8(guestBase, 8)

	linear := pattern(256, 0x11)
	copy(mem.data, swizzled(8, 8, linear))

	s, err := c.GetSurface(params, cache.ScaleExact, true)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, linear, softTexture(t, s).Data(0, 0))

	// Render into the texture, hand the span to the surface, flush.
	rendered := pattern(256, 0x80)
	copy(softTexture(t, s).Data(0, 0), rendered)
	require.NoError(t, c.InvalidateRegion(params.Addr, params.Size, s))
	require.NoError(t, c.FlushRegion(params.Addr, params.Size))

	require.Equal(t, swizzled(8, 8, rendered), mem.data[:256])
}

// Reading a depth buffer as color must convert the GPU-side data directly
// instead of round tripping through stale guest memory.
func TestDepthReinterpretedAsColor(t *testing.T) {
	c, mem := newIntegrationEnv(t)

	depthParams := tiledRGBA8(guestBase, 8)
	depthParams.Format = texture.FormatD24S8
	depthParams.UpdateParams()

	copy(mem.data, swizzled(8, 8, pattern(256, 0x11)))
	depth, err := c.GetSurface(depthParams, cache.ScaleExact, true)
	require.NoError(t, err)

	// Overwrite the depth texture and mark it as the owner of the span, so
	// guest memory no longer matches the GPU content.
	gpuDepth := pattern(256, 0x90)
	copy(softTexture(t, depth).Data(0, 0), gpuDepth)
	require.NoError(t, c.InvalidateRegion(depthParams.Addr, depthParams.Size, depth))

	colorParams := tiledRGBA8(guestBase, 8)
	color, err := c.GetSurface(colorParams, cache.ScaleExact, true)
	require.NoError(t, err)
	require.NotSame(t, depth, color)

	// D24S8 words carry over to RGBA8 verbatim, straight from the texture.
	require.Equal(t, gpuDepth, softTexture(t, color).Data(0, 0))
}

func TestGetFramebufferSurfaces(t *testing.T) {
	c, _ := newIntegrationEnv(t)

	config := cache.FramebufferConfig{
		ColorAddress: guestBase,
		DepthAddress: guestBase + 0x10000,
		Width:        16,
		Height:       16,
		ColorFormat:  texture.FormatRGBA8,
		DepthFormat:  texture.FormatD24S8,
		UseColor:     true,
		UseDepth:     true,
	}
	viewport := texture.Rect{Left: 0, Top: 0, Right: 16, Bottom: 16}

	fbs, err := c.GetFramebufferSurfaces(config, viewport)
	require.NoError(t, err)
	require.NotNil(t, fbs.Color)
	require.NotNil(t, fbs.Depth)
	require.Equal(t, viewport, fbs.Rect)
	require.Equal(t, texture.FormatRGBA8, fbs.Color.Format)
	require.Equal(t, texture.FormatD24S8, fbs.Depth.Format)

	// Overlapping color and depth regions disable the depth binding.
	config.DepthAddress = config.ColorAddress
	fbs, err = c.GetFramebufferSurfaces(config, viewport)
	require.NoError(t, err)
	require.NotNil(t, fbs.Color)
	require.Nil(t, fbs.Depth)
}

func TestGetTextureSurfaceMipLevels(t *testing.T) {
	c, mem := newIntegrationEnv(t)
	base := uint32(guestBase + 0x10000)

	// Mip chains are contiguous: the 8x8 level follows the 16x16 base.
	level0 := pattern(16*16*4, 0x20)
	level1 := pattern(8*8*4, 0xA0)
	copy(mem.data[base-guestBase:], swizzled(16, 16, level0))
	copy(mem.data[base-guestBase+1024:], swizzled(8, 8, level1))

	info := cache.TextureInfo{
		Address: base,
		Width:   16,
		Height:  16,
		Format:  texture.FormatRGBA8,
	}
	s, err := c.GetTextureSurface(info, 1)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.EqualValues(t, 1, s.MaxLevel)

	tex := softTexture(t, s)
	require.Equal(t, level0, tex.Data(0, 0))
	require.Equal(t, level1, tex.Data(1, 0))
}

func TestGetTextureSurfaceRejectsBadLayouts(t *testing.T) {
	c, _ := newIntegrationEnv(t)

	// 12 pixels per side at the smallest level is not tile aligned.
	s, err := c.GetTextureSurface(cache.TextureInfo{
		Address: guestBase,
		Width:   12,
		Height:  12,
		Format:  texture.FormatRGBA8,
	}, 0)
	require.NoError(t, err)
	require.Nil(t, s)

	// The base size cannot produce the requested level count.
	s, err = c.GetTextureSurface(cache.TextureInfo{
		Address: guestBase,
		Width:   16,
		Height:  16,
		Format:  texture.FormatRGBA8,
	}, 4)
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestGetTextureCube(t *testing.T) {
	c, mem := newIntegrationEnv(t)
	base := uint32(guestBase + 0x20000)

	var faces [6][]byte
	for face := range faces {
		faces[face] = pattern(8*8*4, byte(0x10*(face+1)))
		addr := base + uint32(face)*0x400
		copy(mem.data[addr-guestBase:], swizzled(8, 8, faces[face]))
	}

	config := cache.CubeConfig{
		PX: base, NX: base + 0x400,
		PY: base + 0x800, NY: base + 0xC00,
		PZ: base + 0x1000, NZ: base + 0x1400,
		Width:  8,
		Format: texture.FormatRGBA8,
	}

	cube, err := c.GetTextureCube(config)
	require.NoError(t, err)
	require.NotNil(t, cube)

	tex := softTexture(t, cube)
	for face := range faces {
		require.Equal(t, faces[face], tex.Data(0, uint32(face)), "face %d", face)
	}

	again, err := c.GetTextureCube(config)
	require.NoError(t, err)
	require.Same(t, cube, again)
}
