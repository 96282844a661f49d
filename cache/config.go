package cache

import "github.com/hostgpu/surfcache/texture"

// TextureInfo describes a texture unit binding: the base level image in
// guest memory.
type TextureInfo struct {
	Address uint32
	Width   uint32
	Height  uint32
	Format  texture.PixelFormat
}

// CubeConfig identifies a cube map by its six face addresses, edge length
// and format. It doubles as the cube cache key, so it must stay comparable.
type CubeConfig struct {
	PX uint32
	NX uint32
	PY uint32
	NY uint32
	PZ uint32
	NZ uint32

	Width  uint32
	Format texture.PixelFormat
}

// FillConfig mirrors the display engine's memory fill unit: a byte range
// and a 16, 24 or 32 bit pattern repeated across it.
type FillConfig struct {
	StartAddress uint32
	EndAddress   uint32

	Value     [4]byte
	Fill32Bit bool
	Fill24Bit bool
}

// PatternSize returns the fill pattern period in bytes.
func (f FillConfig) PatternSize() uint32 {
	switch {
	case f.Fill32Bit:
		return 4
	case f.Fill24Bit:
		return 3
	default:
		return 2
	}
}

// FramebufferConfig describes the render target bindings for a draw.
type FramebufferConfig struct {
	ColorAddress uint32
	DepthAddress uint32

	Width  uint32
	Height uint32

	ColorFormat texture.PixelFormat
	DepthFormat texture.PixelFormat

	UseColor bool
	UseDepth bool
}

// FramebufferSurfaces is the resolved render target pair for a draw. Rect
// is the drawable area in host texels, shared by both surfaces.
type FramebufferSurfaces struct {
	Color *Surface
	Depth *Surface
	Rect  texture.Rect
}
