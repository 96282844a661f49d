package cache

import (
	"github.com/hostgpu/surfcache/memutils"
	"github.com/hostgpu/surfcache/texture"
)

// SurfaceParams describes a rectangular pixel region of guest physical
// memory: where it lives, how it is laid out and how it should be presented
// on the host. Two surfaces with equal params are interchangeable.
type SurfaceParams struct {
	Addr uint32
	End  uint32
	Size uint32

	// Width, Height and Stride are in pixels. Stride >= Width; registered
	// surfaces never have a gap between rows (Stride == Width), gaps only
	// appear on lookup requests.
	Width  uint32
	Height uint32
	Stride uint32

	TexType  texture.TextureType
	Format   texture.PixelFormat
	Kind     texture.SurfaceKind
	ResScale uint16
	IsTiled  bool
}

// UpdateParams derives Stride, Size, End and Kind from the explicitly
// populated fields. Call it after filling Addr/Width/Height/Format.
func (p *SurfaceParams) UpdateParams() {
	if p.Stride == 0 {
		p.Stride = p.Width
	}
	p.Kind = texture.KindFromFormat(p.Format)
	if p.IsTiled {
		p.Size = p.BytesInPixels(p.Stride*texture.TileDim*(p.Height/texture.TileDim-1) + p.Width*texture.TileDim)
	} else {
		p.Size = p.BytesInPixels(p.Stride*(p.Height-1) + p.Width)
	}
	p.End = p.Addr + p.Size
}

func (p *SurfaceParams) Interval() memutils.Interval {
	return memutils.Interval{Start: p.Addr, End: p.End}
}

// BytesInPixels converts a pixel count to its guest memory footprint.
func (p *SurfaceParams) BytesInPixels(pixels uint32) uint32 {
	return pixels * p.Format.BitsPerPixel() / 8
}

// PixelsInBytes converts a byte count to the number of pixels it holds.
func (p *SurfaceParams) PixelsInBytes(bytes uint32) uint32 {
	return bytes * 8 / p.Format.BitsPerPixel()
}

func (p *SurfaceParams) tiledMul() uint32 {
	if p.IsTiled {
		return texture.TileDim
	}
	return 1
}

func (p *SurfaceParams) ScaledWidth() uint32 {
	return p.Width * uint32(p.ResScale)
}

func (p *SurfaceParams) ScaledHeight() uint32 {
	return p.Height * uint32(p.ResScale)
}

func (p *SurfaceParams) Rect() texture.Rect {
	return texture.Rect{Left: 0, Top: 0, Right: p.Width, Bottom: p.Height}
}

func (p *SurfaceParams) ScaledRect() texture.Rect {
	return p.Rect().Scaled(uint32(p.ResScale))
}

// FromInterval derives the params of the smallest rectangular sub-region
// that covers iv. Multi-row intervals are padded to whole (tile-)rows;
// intervals within a single row are padded to whole tiles (or pixels when
// linear). iv must be non-empty and inside the surface.
func (p *SurfaceParams) FromInterval(iv memutils.Interval) SurfaceParams {
	params := *p
	tiled := p.tiledMul()
	rowBytes := p.BytesInPixels(p.Stride) * tiled

	start := p.Addr + memutils.AlignDown(iv.Start-p.Addr, rowBytes)
	end := p.Addr + memutils.AlignUp(iv.End-p.Addr, rowBytes)
	if end-start > rowBytes {
		params.Addr = start
		params.Height = (end - start) / p.BytesInPixels(p.Stride)
	} else {
		// Single (tile-)row: tighten to tile granularity instead.
		if end-start != rowBytes {
			panic("interval does not round to a surface row")
		}
		tileBytes := p.BytesInPixels(tiled * tiled)
		start = p.Addr + memutils.AlignDown(iv.Start-p.Addr, tileBytes)
		end = p.Addr + memutils.AlignUp(iv.End-p.Addr, tileBytes)
		params.Addr = start
		params.Width = p.PixelsInBytes(end-start) / tiled
		params.Stride = params.Width
		params.Height = tiled
	}
	params.UpdateParams()
	return params
}

// SubRectInterval returns the byte interval spanned by a pixel rect of this
// surface. Tiled surfaces pad the rect to tile multiples first.
func (p *SurfaceParams) SubRectInterval(r texture.Rect) memutils.Interval {
	if r.Width() == 0 || r.Height() == 0 {
		return memutils.Interval{}
	}

	var startPixel, pixels uint32
	if p.IsTiled {
		left := memutils.AlignDown(r.Left, texture.TileDim)
		right := memutils.AlignUp(r.Right, texture.TileDim)
		top := memutils.AlignDown(r.Top, texture.TileDim) / texture.TileDim
		bottom := memutils.AlignUp(r.Bottom, texture.TileDim) / texture.TileDim

		rowPixels := p.Stride * texture.TileDim
		startPixel = top*rowPixels + left*texture.TileDim
		pixels = (bottom-top-1)*rowPixels + (right-left)*texture.TileDim
	} else {
		startPixel = r.Top*p.Stride + r.Left
		pixels = (r.Height()-1)*p.Stride + r.Width()
	}

	return memutils.Interval{
		Start: p.Addr + p.BytesInPixels(startPixel),
		End:   p.Addr + p.BytesInPixels(startPixel+pixels),
	}
}

// SubRect locates sub inside this surface as a pixel rect. sub must
// describe a region this surface covers.
func (p *SurfaceParams) SubRect(sub SurfaceParams) texture.Rect {
	beginPixel := p.PixelsInBytes(sub.Addr - p.Addr)
	if p.IsTiled {
		rowPixels := p.Stride * texture.TileDim
		x0 := beginPixel % rowPixels / texture.TileDim
		y0 := beginPixel / rowPixels * texture.TileDim
		return texture.Rect{Left: x0, Top: y0, Right: x0 + sub.Width, Bottom: y0 + sub.Height}
	}
	x0 := beginPixel % p.Stride
	y0 := beginPixel / p.Stride
	return texture.Rect{Left: x0, Top: y0, Right: x0 + sub.Width, Bottom: y0 + sub.Height}
}

// ScaledSubRect is SubRect in host texels, scaled by this surface's
// resolution scale.
func (p *SurfaceParams) ScaledSubRect(sub SurfaceParams) texture.Rect {
	return p.SubRect(sub).Scaled(uint32(p.ResScale))
}

// ExactMatch reports whether other describes the same region with the same
// layout.
func (p *SurfaceParams) ExactMatch(other SurfaceParams) bool {
	return other.Addr == p.Addr &&
		other.Width == p.Width &&
		other.Height == p.Height &&
		other.Stride == p.Stride &&
		other.Format == p.Format &&
		other.IsTiled == p.IsTiled &&
		p.Format != texture.FormatInvalid
}

// CanSubRect reports whether sub is a well-formed rectangle inside this
// surface.
func (p *SurfaceParams) CanSubRect(sub SurfaceParams) bool {
	tiled := p.tiledMul()
	return sub.Addr >= p.Addr && sub.End <= p.End &&
		sub.Format == p.Format && p.Format != texture.FormatInvalid &&
		sub.IsTiled == p.IsTiled &&
		(sub.Addr-p.Addr)%p.BytesInPixels(tiled*tiled) == 0 &&
		(sub.Stride == p.Stride || sub.Height <= tiled) &&
		p.SubRect(sub).Left+sub.Width <= p.Stride
}

// CanExpand reports whether this surface and expanded can be fused into one
// larger surface: same layout, overlapping or adjacent, row-aligned offset.
func (p *SurfaceParams) CanExpand(expanded SurfaceParams) bool {
	if p.Format == texture.FormatInvalid || p.Format != expanded.Format ||
		p.IsTiled != expanded.IsTiled || p.Stride != expanded.Stride {
		return false
	}
	if p.Addr > expanded.End || expanded.Addr > p.End {
		return false
	}
	distance := maxu32(expanded.Addr, p.Addr) - minu32(expanded.Addr, p.Addr)
	return distance%p.BytesInPixels(p.Stride*p.tiledMul()) == 0
}

// CanTexCopy reports whether this surface can source a display-transfer
// texture copy described by tc. Texture copy params measure Width and
// Stride in bytes, not pixels.
func (p *SurfaceParams) CanTexCopy(tc SurfaceParams) bool {
	if p.Format == texture.FormatInvalid || p.Addr > tc.Addr || p.End < tc.End {
		return false
	}

	if tc.Width != tc.Stride {
		tiled := p.tiledMul()
		tileBytes := p.BytesInPixels(tiled * tiled)
		rowBytes := p.BytesInPixels(p.Stride * tiled)
		return (tc.Addr-p.Addr)%tileBytes == 0 &&
			tc.Width%tileBytes == 0 &&
			(tc.Height == 1 || tc.Stride == rowBytes) &&
			(tc.Addr-p.Addr)%rowBytes+tc.Width <= rowBytes
	}

	derived := p.FromInterval(tc.Interval())
	return derived.Interval() == tc.Interval()
}

func minu32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxu32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
