package texture

import "encoding/binary"

// ClearValue carries the decoded constant used to clear a texture region.
// Color formats populate Color, depth formats Depth and DepthStencil both
// Depth and Stencil.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint8
}

// MakeClearValue decodes the raw fill pattern of a fill surface into the
// clear constant for a destination of the given kind and format. fill must
// hold at least BitsPerPixel/8 bytes of the repeating pattern.
func MakeClearValue(kind SurfaceKind, format PixelFormat, fill []byte) ClearValue {
	var result ClearValue
	switch kind {
	case KindColor, KindTexture, KindFill:
		result.Color = decodeColor(format, fill)
	case KindDepth:
		if format == FormatD16 {
			result.Depth = float32(binary.LittleEndian.Uint16(fill)) / 65535.0
		} else {
			depth := uint32(fill[0]) | uint32(fill[1])<<8 | uint32(fill[2])<<16
			result.Depth = float32(depth) / 16777215.0
		}
	case KindDepthStencil:
		raw := binary.LittleEndian.Uint32(fill)
		result.Depth = float32(raw&0xFFFFFF) / 16777215.0
		result.Stencil = uint8(raw >> 24)
	default:
		panic("clear value requested for an invalid surface kind")
	}
	return result
}

// decodeColor expands one pixel of guest color data to normalized RGBA.
// Component order matches the console's in-memory layout, where the alpha
// byte comes first for RGBA8.
func decodeColor(format PixelFormat, data []byte) [4]float32 {
	switch format {
	case FormatRGBA8:
		return [4]float32{
			float32(data[3]) / 255.0,
			float32(data[2]) / 255.0,
			float32(data[1]) / 255.0,
			float32(data[0]) / 255.0,
		}
	case FormatRGB8:
		return [4]float32{
			float32(data[2]) / 255.0,
			float32(data[1]) / 255.0,
			float32(data[0]) / 255.0,
			1.0,
		}
	case FormatRGB5A1:
		raw := binary.LittleEndian.Uint16(data)
		return [4]float32{
			float32(raw>>11&0x1F) / 31.0,
			float32(raw>>6&0x1F) / 31.0,
			float32(raw>>1&0x1F) / 31.0,
			float32(raw & 1),
		}
	case FormatRGB565:
		raw := binary.LittleEndian.Uint16(data)
		return [4]float32{
			float32(raw>>11&0x1F) / 31.0,
			float32(raw>>5&0x3F) / 63.0,
			float32(raw&0x1F) / 31.0,
			1.0,
		}
	case FormatRGBA4:
		raw := binary.LittleEndian.Uint16(data)
		return [4]float32{
			float32(raw>>12&0xF) / 15.0,
			float32(raw>>8&0xF) / 15.0,
			float32(raw>>4&0xF) / 15.0,
			float32(raw&0xF) / 15.0,
		}
	case FormatIA8:
		i := float32(data[1]) / 255.0
		return [4]float32{i, i, i, float32(data[0]) / 255.0}
	case FormatRG8:
		return [4]float32{float32(data[1]) / 255.0, float32(data[0]) / 255.0, 0, 1}
	case FormatI8:
		i := float32(data[0]) / 255.0
		return [4]float32{i, i, i, 1}
	case FormatA8:
		return [4]float32{0, 0, 0, float32(data[0]) / 255.0}
	case FormatIA4:
		i := float32(data[0]>>4) / 15.0
		return [4]float32{i, i, i, float32(data[0]&0xF) / 15.0}
	case FormatI4:
		i := float32(data[0]&0xF) / 15.0
		return [4]float32{i, i, i, 1}
	case FormatA4:
		return [4]float32{0, 0, 0, float32(data[0]&0xF) / 15.0}
	}
	// Compressed formats cannot appear as fill sources.
	return [4]float32{}
}
