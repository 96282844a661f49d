package softrun

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/hostgpu/surfcache/cache"
	"github.com/hostgpu/surfcache/texture"
)

// Reinterpreters returns the format converters this runtime offers for
// producing dstFormat from another format of the same density.
func (r *Runtime) Reinterpreters(dstFormat texture.PixelFormat) []cache.Reinterpreter {
	switch dstFormat {
	case texture.FormatRGBA8:
		return []cache.Reinterpreter{&d24s8ToRGBA8{runtime: r}}
	case texture.FormatRGB5A1:
		return []cache.Reinterpreter{&rgba4ToRGB5A1{runtime: r}}
	}
	return nil
}

// d24s8ToRGBA8 exposes a depth-stencil attachment as color data, the
// pattern games use to read their own depth buffer.
type d24s8ToRGBA8 struct {
	runtime *Runtime
}

func (*d24s8ToRGBA8) SourceFormat() texture.PixelFormat {
	return texture.FormatD24S8
}

func (c *d24s8ToRGBA8) Reinterpret(src cache.Texture, srcRect texture.Rect, dst cache.Texture, dstRect texture.Rect) error {
	return c.runtime.reinterpretRect(src, srcRect, dst, dstRect, 4, func(dst, src []byte) {
		// Both formats are 32 bit words with the same byte layout in guest
		// memory, so the raw word carries over.
		copy(dst, src)
	})
}

// rgba4ToRGB5A1 requantizes 4444 color into 5551.
type rgba4ToRGB5A1 struct {
	runtime *Runtime
}

func (*rgba4ToRGB5A1) SourceFormat() texture.PixelFormat {
	return texture.FormatRGBA4
}

func (c *rgba4ToRGB5A1) Reinterpret(src cache.Texture, srcRect texture.Rect, dst cache.Texture, dstRect texture.Rect) error {
	return c.runtime.reinterpretRect(src, srcRect, dst, dstRect, 2, func(dst, src []byte) {
		raw := binary.LittleEndian.Uint16(src)
		red := raw >> 12 & 0xF
		green := raw >> 8 & 0xF
		blue := raw >> 4 & 0xF
		alpha := uint16(0)
		if raw&0x8 != 0 {
			alpha = 1
		}
		out := red*31/15<<11 | green*31/15<<6 | blue*31/15<<1 | alpha
		binary.LittleEndian.PutUint16(dst, out)
	})
}

// reinterpretRect reads srcRect, converts pixel by pixel and writes
// dstRect. The rects must have equal dimensions.
func (r *Runtime) reinterpretRect(src cache.Texture, srcRect texture.Rect, dst cache.Texture, dstRect texture.Rect, bytesPP uint32, convert func(dst, src []byte)) error {
	s, err := r.resolve(src)
	if err != nil {
		return err
	}
	d, err := r.resolve(dst)
	if err != nil {
		return err
	}
	if srcRect.Width() != dstRect.Width() || srcRect.Height() != dstRect.Height() {
		return errors.New("reinterpretation cannot scale")
	}

	buf := make([]byte, srcRect.Width()*srcRect.Height()*bytesPP)
	if err := s.readRect(0, 0, normalizeRect(srcRect), buf); err != nil {
		return err
	}
	for off := uint32(0); off < uint32(len(buf)); off += bytesPP {
		convert(buf[off:off+bytesPP], buf[off:off+bytesPP])
	}
	return d.writeRect(0, 0, normalizeRect(dstRect), buf)
}

// encodePixel turns a clear value back into raw guest bytes for the given
// format. For 4 bit formats the returned byte covers two pixels.
func encodePixel(format texture.PixelFormat, value texture.ClearValue) []byte {
	switch format {
	case texture.FormatRGBA8:
		return []byte{unorm8(value.Color[3]), unorm8(value.Color[2]), unorm8(value.Color[1]), unorm8(value.Color[0])}
	case texture.FormatRGB8:
		return []byte{unorm8(value.Color[2]), unorm8(value.Color[1]), unorm8(value.Color[0])}
	case texture.FormatRGB5A1:
		raw := uint16(unorm(value.Color[0], 31))<<11 |
			uint16(unorm(value.Color[1], 31))<<6 |
			uint16(unorm(value.Color[2], 31))<<1 |
			uint16(unorm(value.Color[3], 1))
		return le16(raw)
	case texture.FormatRGB565:
		raw := uint16(unorm(value.Color[0], 31))<<11 |
			uint16(unorm(value.Color[1], 63))<<5 |
			uint16(unorm(value.Color[2], 31))
		return le16(raw)
	case texture.FormatRGBA4:
		raw := uint16(unorm(value.Color[0], 15))<<12 |
			uint16(unorm(value.Color[1], 15))<<8 |
			uint16(unorm(value.Color[2], 15))<<4 |
			uint16(unorm(value.Color[3], 15))
		return le16(raw)
	case texture.FormatIA8:
		return []byte{unorm8(value.Color[3]), unorm8(value.Color[0])}
	case texture.FormatRG8:
		return []byte{unorm8(value.Color[1]), unorm8(value.Color[0])}
	case texture.FormatI8:
		return []byte{unorm8(value.Color[0])}
	case texture.FormatA8:
		return []byte{unorm8(value.Color[3])}
	case texture.FormatIA4:
		return []byte{unorm(value.Color[0], 15)<<4 | unorm(value.Color[3], 15)}
	case texture.FormatI4:
		v := unorm(value.Color[0], 15)
		return []byte{v<<4 | v}
	case texture.FormatA4:
		v := unorm(value.Color[3], 15)
		return []byte{v<<4 | v}
	case texture.FormatD16:
		return le16(uint16(value.Depth*65535.0 + 0.5))
	case texture.FormatD24:
		raw := uint32(value.Depth*16777215.0 + 0.5)
		return []byte{byte(raw), byte(raw >> 8), byte(raw >> 16)}
	case texture.FormatD24S8:
		raw := uint32(value.Depth*16777215.0+0.5) | uint32(value.Stencil)<<24
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, raw)
		return out
	}
	panic("clear of a compressed or invalid pixel format")
}

func unorm8(v float32) byte {
	return unorm(v, 255)
}

func unorm(v float32, max uint32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return byte(max)
	}
	return byte(v*float32(max) + 0.5)
}

func le16(v uint16) []byte {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, v)
	return out
}
