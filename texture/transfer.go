package texture

// Rect is a pixel rectangle with a top-down coordinate system: Top is the
// row at the lowest guest address and Bottom > Top for a non-degenerate
// rect. A rect with Bottom < Top expresses a vertically flipped blit.
type Rect struct {
	Left   uint32
	Top    uint32
	Right  uint32
	Bottom uint32
}

func (r Rect) Width() uint32 {
	return r.Right - r.Left
}

func (r Rect) Height() uint32 {
	if r.Bottom < r.Top {
		return r.Top - r.Bottom
	}
	return r.Bottom - r.Top
}

// Flipped reports whether the rect runs bottom-up.
func (r Rect) Flipped() bool {
	return r.Bottom < r.Top
}

// Scaled multiplies every edge by the resolution scale factor.
func (r Rect) Scaled(scale uint32) Rect {
	return Rect{
		Left:   r.Left * scale,
		Top:    r.Top * scale,
		Right:  r.Right * scale,
		Bottom: r.Bottom * scale,
	}
}

type Offset struct {
	X uint32
	Y uint32
}

type Extent struct {
	Width  uint32
	Height uint32
}

// Copy describes a 1:1 region copy between two textures.
type Copy struct {
	SrcLevel  uint32
	DstLevel  uint32
	SrcLayer  uint32
	DstLayer  uint32
	SrcOffset Offset
	DstOffset Offset
	Extent    Extent
}

// Blit describes a region transfer that may scale or flip.
type Blit struct {
	SrcLevel uint32
	DstLevel uint32
	SrcLayer uint32
	DstLayer uint32
	SrcRect  Rect
	DstRect  Rect
}

// Clear describes a constant fill of a texture region.
type Clear struct {
	Level uint32
	Rect  Rect
}

// BufferCopy stages pixel data between a transfer buffer and a texture
// region.
type BufferCopy struct {
	BufferOffset uint32
	BufferSize   uint32
	Rect         Rect
	Level        uint32
}
