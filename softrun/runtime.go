// Package softrun is a software implementation of the cache's texture
// runtime. Textures are plain byte buffers in guest pixel format, which
// makes it the reference backend for tests and for headless operation.
package softrun

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/hostgpu/surfcache/cache"
	"github.com/hostgpu/surfcache/texture"
	"golang.org/x/exp/slog"
)

// Runtime implements cache.TextureRuntime on CPU memory. All operations
// complete synchronously, so Finish has nothing to wait for.
type Runtime struct {
	logger *slog.Logger

	// uploadPool recycles upload staging buffers; uploads consume their
	// staging synchronously so the buffer can go straight back.
	uploadPool sync.Pool
}

func New(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{logger: logger}
}

// Texture is a CPU-side texture: per level, per layer byte buffers holding
// raw guest-format pixels.
type Texture struct {
	width  uint32
	height uint32
	format texture.PixelFormat
	layers uint32

	// levels[level][layer]; levels beyond the base are allocated lazily.
	levels   [][][]byte
	released bool
}

func (t *Texture) Release() {
	t.released = true
	t.levels = nil
}

// Data exposes the raw bytes of a level/layer for tests.
func (t *Texture) Data(level, layer uint32) []byte {
	return t.storage(level, layer)
}

func (t *Texture) levelWidth(level uint32) uint32 {
	return t.width >> level
}

func (t *Texture) levelHeight(level uint32) uint32 {
	return t.height >> level
}

func (t *Texture) rowBytes(level uint32) uint32 {
	return t.levelWidth(level) * t.format.BitsPerPixel() / 8
}

func (t *Texture) storage(level, layer uint32) []byte {
	if t.released {
		panic("texture used after release")
	}
	for uint32(len(t.levels)) <= level {
		t.levels = append(t.levels, make([][]byte, t.layers))
	}
	buf := t.levels[level][layer]
	if buf == nil {
		buf = make([]byte, t.levelHeight(level)*t.rowBytes(level))
		t.levels[level][layer] = buf
	}
	return buf
}

func (r *Runtime) Allocate(width, height uint32, format texture.PixelFormat, texType texture.TextureType) (cache.Texture, error) {
	if format == texture.FormatInvalid {
		return nil, errors.New("cannot allocate a texture with an invalid pixel format")
	}
	layers := uint32(1)
	if texType == texture.TextureCubeMap {
		layers = 6
	}
	t := &Texture{
		width:  width,
		height: height,
		format: format,
		layers: layers,
	}
	t.storage(0, 0)
	return t, nil
}

func (r *Runtime) FindStaging(size uint32, upload bool) cache.StagingBuffer {
	if upload {
		if buf, ok := r.uploadPool.Get().([]byte); ok && uint32(cap(buf)) >= size {
			return cache.StagingBuffer{Data: buf[:size], Size: size}
		}
	}
	// Download staging stays alive until the cache drains its writeback
	// queue, so those buffers are not pooled.
	return cache.StagingBuffer{Data: make([]byte, size), Size: size}
}

func (r *Runtime) Upload(tex cache.Texture, transfer texture.BufferCopy, staging cache.StagingBuffer) error {
	t, err := r.resolve(tex)
	if err != nil {
		return err
	}
	defer r.uploadPool.Put(staging.Data[:cap(staging.Data)])

	data := staging.Data[:staging.Size]
	rect := transfer.Rect
	srcPixels := staging.Size * 8 / t.format.BitsPerPixel()
	if srcPixels == rect.Width()*rect.Height() {
		return t.writeRect(transfer.Level, 0, rect, data)
	}
	// The staging holds unscaled guest data for a scaled texture region;
	// stretch it with nearest neighbor on the way in.
	scale := scaleFactor(rect.Width()*rect.Height(), srcPixels)
	if scale == 0 {
		return errors.Newf("upload of %d pixels does not fit a %dx%d region at any integer scale",
			srcPixels, rect.Width(), rect.Height())
	}
	scaled := scaleNearest(data, rect.Width()/scale, rect.Height()/scale, rect.Width(), rect.Height(), t.format.BitsPerPixel())
	return t.writeRect(transfer.Level, 0, rect, scaled)
}

func (r *Runtime) Download(tex cache.Texture, transfer texture.BufferCopy, staging cache.StagingBuffer) error {
	t, err := r.resolve(tex)
	if err != nil {
		return err
	}

	rect := transfer.Rect
	rectBytes := rect.Width() * rect.Height() * t.format.BitsPerPixel() / 8
	if staging.Size == rectBytes {
		return t.readRect(transfer.Level, 0, rect, staging.Data[:staging.Size])
	}
	// Scaled region downsampled into an unscaled staging buffer.
	dstPixels := staging.Size * 8 / t.format.BitsPerPixel()
	scale := scaleFactor(rect.Width()*rect.Height(), dstPixels)
	if scale == 0 {
		return errors.Newf("download of a %dx%d region does not fit %d pixels at any integer scale",
			rect.Width(), rect.Height(), dstPixels)
	}
	full := make([]byte, rectBytes)
	if err := t.readRect(transfer.Level, 0, rect, full); err != nil {
		return err
	}
	scaled := scaleNearest(full, rect.Width(), rect.Height(), rect.Width()/scale, rect.Height()/scale, t.format.BitsPerPixel())
	copy(staging.Data[:staging.Size], scaled)
	return nil
}

func (r *Runtime) CopyTextures(src, dst cache.Texture, copyArea texture.Copy) error {
	s, err := r.resolve(src)
	if err != nil {
		return err
	}
	d, err := r.resolve(dst)
	if err != nil {
		return err
	}
	if s.format.BitsPerPixel() != d.format.BitsPerPixel() {
		return errors.Newf("copy between %s and %s changes pixel density", s.format, d.format)
	}

	srcRect := texture.Rect{
		Left: copyArea.SrcOffset.X, Top: copyArea.SrcOffset.Y,
		Right:  copyArea.SrcOffset.X + copyArea.Extent.Width,
		Bottom: copyArea.SrcOffset.Y + copyArea.Extent.Height,
	}
	buf := make([]byte, copyArea.Extent.Width*copyArea.Extent.Height*s.format.BitsPerPixel()/8)
	if err := s.readRect(copyArea.SrcLevel, copyArea.SrcLayer, srcRect, buf); err != nil {
		return err
	}
	dstRect := texture.Rect{
		Left: copyArea.DstOffset.X, Top: copyArea.DstOffset.Y,
		Right:  copyArea.DstOffset.X + copyArea.Extent.Width,
		Bottom: copyArea.DstOffset.Y + copyArea.Extent.Height,
	}
	return d.writeRect(copyArea.DstLevel, copyArea.DstLayer, dstRect, buf)
}

func (r *Runtime) BlitTextures(src, dst cache.Texture, blit texture.Blit) error {
	s, err := r.resolve(src)
	if err != nil {
		return err
	}
	d, err := r.resolve(dst)
	if err != nil {
		return err
	}
	if s.format.BitsPerPixel() != d.format.BitsPerPixel() {
		return errors.Newf("blit between %s and %s changes pixel density", s.format, d.format)
	}

	bpp := s.format.BitsPerPixel()
	srcRect := normalizeRect(blit.SrcRect)
	dstRect := normalizeRect(blit.DstRect)

	buf := make([]byte, srcRect.Width()*srcRect.Height()*bpp/8)
	if err := s.readRect(blit.SrcLevel, blit.SrcLayer, srcRect, buf); err != nil {
		return err
	}
	if blit.SrcRect.Flipped() != blit.DstRect.Flipped() {
		buf = flipRows(buf, srcRect.Height())
	}
	if srcRect.Width() != dstRect.Width() || srcRect.Height() != dstRect.Height() {
		buf = scaleNearest(buf, srcRect.Width(), srcRect.Height(), dstRect.Width(), dstRect.Height(), bpp)
	}
	return d.writeRect(blit.DstLevel, blit.DstLayer, dstRect, buf)
}

func (r *Runtime) ClearTexture(tex cache.Texture, clear texture.Clear, value texture.ClearValue) error {
	t, err := r.resolve(tex)
	if err != nil {
		return err
	}

	pixel := encodePixel(t.format, value)
	rect := clear.Rect
	// For 4 bit formats the pattern byte covers two pixels, so the row
	// length comes from the bit depth, not the pattern length.
	row := make([]byte, rect.Width()*t.format.BitsPerPixel()/8)
	for off := 0; off < len(row); off += len(pixel) {
		copy(row[off:], pixel)
	}
	buf := make([]byte, 0, rect.Height()*uint32(len(row)))
	for y := uint32(0); y < rect.Height(); y++ {
		buf = append(buf, row...)
	}
	return t.writeRect(clear.Level, 0, rect, buf)
}

func (r *Runtime) GenerateMipmaps(tex cache.Texture, maxLevel uint32) error {
	t, err := r.resolve(tex)
	if err != nil {
		return err
	}
	bpp := t.format.BitsPerPixel()
	for layer := uint32(0); layer < t.layers; layer++ {
		base := t.storage(0, layer)
		for level := uint32(1); level <= maxLevel; level++ {
			dst := t.storage(level, layer)
			scaled := scaleNearest(base, t.width, t.height, t.levelWidth(level), t.levelHeight(level), bpp)
			copy(dst, scaled)
		}
	}
	return nil
}

// NeedsConversion is always false: textures hold raw guest bytes.
func (r *Runtime) NeedsConversion(format texture.PixelFormat) bool {
	return false
}

func (r *Runtime) FormatConvert(format texture.PixelFormat, upload bool, src, dst []byte) {
	copy(dst, src)
}

func (r *Runtime) Finish() {}

func (r *Runtime) resolve(tex cache.Texture) (*Texture, error) {
	t, ok := tex.(*Texture)
	if !ok {
		return nil, errors.Newf("foreign texture handle %T", tex)
	}
	if t.released {
		return nil, errors.New("texture used after release")
	}
	return t, nil
}

// writeRect copies row-packed pixel data into a rect of the texture. The
// rect must lie within the level and be byte aligned for sub-byte formats.
func (t *Texture) writeRect(level, layer uint32, rect texture.Rect, data []byte) error {
	bpp := t.format.BitsPerPixel()
	if rect.Right > t.levelWidth(level) || rect.Bottom > t.levelHeight(level) {
		return errors.Newf("rect %dx%d+%d+%d escapes level %d (%dx%d)",
			rect.Width(), rect.Height(), rect.Left, rect.Top, level, t.levelWidth(level), t.levelHeight(level))
	}
	if rect.Left*bpp%8 != 0 || rect.Width()*bpp%8 != 0 {
		return errors.New("rect is not byte aligned for a sub-byte format")
	}

	storage := t.storage(level, layer)
	rowBytes := t.rowBytes(level)
	lineBytes := rect.Width() * bpp / 8
	for y := uint32(0); y < rect.Height(); y++ {
		dstOff := (rect.Top+y)*rowBytes + rect.Left*bpp/8
		copy(storage[dstOff:dstOff+lineBytes], data[y*lineBytes:])
	}
	return nil
}

// readRect copies a rect of the texture into row-packed pixel data.
func (t *Texture) readRect(level, layer uint32, rect texture.Rect, data []byte) error {
	bpp := t.format.BitsPerPixel()
	if rect.Right > t.levelWidth(level) || rect.Bottom > t.levelHeight(level) {
		return errors.Newf("rect %dx%d+%d+%d escapes level %d (%dx%d)",
			rect.Width(), rect.Height(), rect.Left, rect.Top, level, t.levelWidth(level), t.levelHeight(level))
	}
	if rect.Left*bpp%8 != 0 || rect.Width()*bpp%8 != 0 {
		return errors.New("rect is not byte aligned for a sub-byte format")
	}

	storage := t.storage(level, layer)
	rowBytes := t.rowBytes(level)
	lineBytes := rect.Width() * bpp / 8
	for y := uint32(0); y < rect.Height(); y++ {
		srcOff := (rect.Top+y)*rowBytes + rect.Left*bpp/8
		copy(data[y*lineBytes:(y+1)*lineBytes], storage[srcOff:])
	}
	return nil
}

// normalizeRect rewrites a flipped rect as top-down; the caller handles the
// row reversal separately.
func normalizeRect(r texture.Rect) texture.Rect {
	if r.Flipped() {
		r.Top, r.Bottom = r.Bottom, r.Top
	}
	return r
}

func flipRows(data []byte, rows uint32) []byte {
	if rows == 0 {
		return data
	}
	rowBytes := uint32(len(data)) / rows
	out := make([]byte, len(data))
	for y := uint32(0); y < rows; y++ {
		copy(out[y*rowBytes:(y+1)*rowBytes], data[(rows-1-y)*rowBytes:])
	}
	return out
}

// scaleFactor returns the integer scale k with large == small*k*k, or 0.
func scaleFactor(large, small uint32) uint32 {
	if small == 0 || large%small != 0 {
		return 0
	}
	for k := uint32(1); k*k <= large/small; k++ {
		if k*k == large/small {
			return k
		}
	}
	return 0
}
