package texture

import "fmt"

// PixelFormat is a guest pixel format. The numeric values follow the
// console's texture format register encoding, with the depth formats mapped
// past the texture range.
type PixelFormat uint8

const (
	FormatRGBA8  PixelFormat = 0
	FormatRGB8   PixelFormat = 1
	FormatRGB5A1 PixelFormat = 2
	FormatRGB565 PixelFormat = 3
	FormatRGBA4  PixelFormat = 4
	FormatIA8    PixelFormat = 5
	FormatRG8    PixelFormat = 6
	FormatI8     PixelFormat = 7
	FormatA8     PixelFormat = 8
	FormatIA4    PixelFormat = 9
	FormatI4     PixelFormat = 10
	FormatA4     PixelFormat = 11
	FormatETC1   PixelFormat = 12
	FormatETC1A4 PixelFormat = 13
	FormatD16    PixelFormat = 14
	FormatD24    PixelFormat = 16
	FormatD24S8  PixelFormat = 17
	FormatInvalid PixelFormat = 255
)

// Formats lists every valid pixel format. The reinterpretation guard walks
// this to look for same-width candidates.
var Formats = []PixelFormat{
	FormatRGBA8, FormatRGB8, FormatRGB5A1, FormatRGB565, FormatRGBA4,
	FormatIA8, FormatRG8, FormatI8, FormatA8, FormatIA4, FormatI4, FormatA4,
	FormatETC1, FormatETC1A4, FormatD16, FormatD24, FormatD24S8,
}

func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatRGB8:
		return "RGB8"
	case FormatRGB5A1:
		return "RGB5A1"
	case FormatRGB565:
		return "RGB565"
	case FormatRGBA4:
		return "RGBA4"
	case FormatIA8:
		return "IA8"
	case FormatRG8:
		return "RG8"
	case FormatI8:
		return "I8"
	case FormatA8:
		return "A8"
	case FormatIA4:
		return "IA4"
	case FormatI4:
		return "I4"
	case FormatA4:
		return "A4"
	case FormatETC1:
		return "ETC1"
	case FormatETC1A4:
		return "ETC1A4"
	case FormatD16:
		return "D16"
	case FormatD24:
		return "D24"
	case FormatD24S8:
		return "D24S8"
	case FormatInvalid:
		return "Invalid"
	}
	return fmt.Sprintf("PixelFormat(%d)", uint8(f))
}

// BitsPerPixel returns the storage density of the format in guest memory.
// Compressed formats report their effective per-pixel density.
func (f PixelFormat) BitsPerPixel() uint32 {
	switch f {
	case FormatRGBA8, FormatD24S8:
		return 32
	case FormatRGB8, FormatD24:
		return 24
	case FormatRGB5A1, FormatRGB565, FormatRGBA4, FormatIA8, FormatRG8, FormatD16:
		return 16
	case FormatI8, FormatA8, FormatIA4, FormatETC1A4:
		return 8
	case FormatI4, FormatA4, FormatETC1:
		return 4
	}
	return 0
}

// SurfaceKind categorizes what a surface holds, which restricts what it can
// match against and how fills and clears are interpreted.
type SurfaceKind uint8

const (
	KindColor SurfaceKind = iota
	KindTexture
	KindDepth
	KindDepthStencil
	KindFill
	KindInvalid
)

func (k SurfaceKind) String() string {
	switch k {
	case KindColor:
		return "Color"
	case KindTexture:
		return "Texture"
	case KindDepth:
		return "Depth"
	case KindDepthStencil:
		return "DepthStencil"
	case KindFill:
		return "Fill"
	case KindInvalid:
		return "Invalid"
	}
	return fmt.Sprintf("SurfaceKind(%d)", uint8(k))
}

// KindFromFormat derives the surface kind a format naturally belongs to.
func KindFromFormat(f PixelFormat) SurfaceKind {
	switch {
	case f <= FormatRGBA4:
		return KindColor
	case f <= FormatETC1A4:
		return KindTexture
	case f == FormatD16 || f == FormatD24:
		return KindDepth
	case f == FormatD24S8:
		return KindDepthStencil
	}
	return KindInvalid
}

// TextureType selects the host resource shape backing a surface.
type TextureType uint8

const (
	Texture2D TextureType = iota
	TextureCubeMap
)

func (t TextureType) String() string {
	switch t {
	case Texture2D:
		return "Texture2D"
	case TextureCubeMap:
		return "TextureCubeMap"
	}
	return fmt.Sprintf("TextureType(%d)", uint8(t))
}
