package cache

import (
	"github.com/cockroachdb/errors"
	"github.com/hostgpu/surfcache/memutils"
	"github.com/hostgpu/surfcache/texture"
)

// validateSurface brings the host texture content of [addr, addr+size) up
// to date, preferring GPU-side copies and reinterpretations over guest
// memory uploads.
func (c *SurfaceCache) validateSurface(s *Surface, addr, size uint32) error {
	if size == 0 {
		return nil
	}
	validateIv := memutils.IntervalFromSize(addr, size)

	if s.Kind == texture.KindFill {
		// Fill surfaces carry their content in FillData and are valid for
		// their whole lifetime.
		if !s.IsRegionValid(validateIv) {
			panic("fill surface with an invalidated region")
		}
		return nil
	}

	validateRegions := s.InvalidRegions.Intersection(validateIv)
	notifyValidated := func(iv memutils.Interval) {
		s.MarkValid(iv)
		validateRegions.Erase(iv)
	}

	for !validateRegions.Empty() {
		iv := validateRegions.Spans()[0].Intersect(validateIv)
		params := s.FromInterval(iv)

		// Look for a registered surface to copy from before touching guest
		// memory.
		if copySrc := c.findMatch(MatchCopy, params, ScaleIgnore, &iv); copySrc != nil {
			copyIv := copySrc.CopyableInterval(params)
			if err := c.copySurface(copySrc, s, copyIv); err != nil {
				return err
			}
			notifyValidated(copyIv)
			continue
		}

		reinterpreted, err := c.validateByReinterpretation(s, &params, iv)
		if err != nil {
			return err
		}
		if reinterpreted {
			notifyValidated(iv)
			continue
		}

		// The data lives only on the GPU in a format we cannot convert
		// from. Reading it back through guest memory would upload garbage,
		// so leave the texture as is.
		if c.noUnimplementedReinterpretations(s, &params, iv) && !c.intervalHasInvalidFormat(iv) {
			if c.dirty.covers(iv) {
				c.logger.Debug("region created entirely on the GPU with no usable reinterpretation, skipping validation",
					"surface", s.String(), "interval", iv.String())
				validateRegions.Erase(iv)
				continue
			}
		}

		// Load from guest memory, flushing any dirty owners there first so
		// the bytes we read are current.
		if err := c.flushRegionLocked(params.Addr, params.Size, nil); err != nil {
			return err
		}
		if err := c.uploadSurface(s, iv); err != nil {
			return err
		}
		notifyValidated(params.Interval())
	}
	return nil
}

// uploadSurface loads the guest bytes covering iv into the surface texture.
func (c *SurfaceCache) uploadSurface(s *Surface, iv memutils.Interval) error {
	loadInfo := s.FromInterval(iv)
	if loadInfo.Addr < s.Addr || loadInfo.End > s.End {
		panic("upload region escapes the surface")
	}

	src := c.mem.PhysicalRef(loadInfo.Addr)
	if src == nil {
		c.logger.Warn("surface upload from unmapped memory", "addr", loadInfo.Addr)
		return nil
	}
	if uint32(len(src)) < loadInfo.Size {
		return errors.Newf("guest region at 0x%08x is %d bytes, surface upload needs %d", loadInfo.Addr, len(src), loadInfo.Size)
	}
	data := src[:loadInfo.Size]

	staging := c.runtime.FindStaging(loadInfo.Size, true)
	if s.IsTiled {
		texture.Unswizzle(loadInfo.Width, loadInfo.Height, s.Format.BitsPerPixel(), data, staging.Data[:loadInfo.Size])
		if c.runtime.NeedsConversion(s.Format) {
			c.runtime.FormatConvert(s.Format, true, staging.Data[:loadInfo.Size], staging.Data[:loadInfo.Size])
		}
	} else {
		c.runtime.FormatConvert(s.Format, true, data, staging.Data[:loadInfo.Size])
	}

	return c.runtime.Upload(s.Texture, texture.BufferCopy{
		BufferSize: loadInfo.Size,
		Rect:       s.ScaledSubRect(loadInfo),
		Level:      0,
	}, staging)
}

// downloadSurface reads the texture content covering iv back out. The
// texture read is issued immediately; the guest memory writeback is queued
// and runs after the next runtime Finish.
func (c *SurfaceCache) downloadSurface(s *Surface, iv memutils.Interval) error {
	flushInfo := s.FromInterval(iv)

	staging := c.runtime.FindStaging(flushInfo.Size, false)
	err := c.runtime.Download(s.Texture, texture.BufferCopy{
		BufferSize: flushInfo.Size,
		Rect:       s.ScaledSubRect(flushInfo),
		Level:      0,
	}, staging)
	if err != nil {
		return err
	}

	dst := c.mem.PhysicalRef(iv.Start)
	if dst == nil {
		c.logger.Warn("surface download to unmapped memory", "addr", iv.Start)
		return nil
	}
	if uint32(len(dst)) < iv.Len() {
		return errors.Newf("guest region at 0x%08x is %d bytes, surface download needs %d", iv.Start, len(dst), iv.Len())
	}
	dest := dst[:iv.Len()]

	// The download may cover more than iv when iv is not row aligned, so
	// reconstruct the full region and copy out only the requested window.
	start := iv.Start - flushInfo.Addr
	format := s.Format
	tiled := s.IsTiled
	width, height := flushInfo.Width, flushInfo.Height
	size := flushInfo.Size
	needsConvert := c.runtime.NeedsConversion(format)
	c.downloadQueue = append(c.downloadQueue, func() {
		data := staging.Data[:size]
		if needsConvert {
			converted := make([]byte, size)
			c.runtime.FormatConvert(format, false, data, converted)
			data = converted
		}
		if tiled {
			swizzled := make([]byte, size)
			texture.Swizzle(width, height, format.BitsPerPixel(), data, swizzled)
			data = swizzled
		}
		copy(dest, data[start:])
	})
	return nil
}

// downloadFillSurface writes the fill pattern of s over iv in guest memory.
// The pattern stays phase aligned to the surface start; leading bytes
// before iv.Start in the first period are preserved.
func (c *SurfaceCache) downloadFillSurface(s *Surface, iv memutils.Interval) {
	if iv.Start < s.Addr || iv.End > s.End {
		panic("fill download region escapes the surface")
	}

	phase := (iv.Start - s.Addr) % s.FillSize
	alignedStart := iv.Start - phase

	dst := c.mem.PhysicalRef(alignedStart)
	if dst == nil {
		return
	}
	total := iv.End - alignedStart
	if uint32(len(dst)) < total {
		total = uint32(len(dst))
	}

	var backup [4]byte
	copy(backup[:phase], dst)

	for off := uint32(0); off < total; off += s.FillSize {
		n := s.FillSize
		if total-off < n {
			n = total - off
		}
		copy(dst[off:off+n], s.FillData[:n])
	}
	copy(dst[:phase], backup[:phase])
}

// copySurface transfers the content of copyIv from src into dst, as a clear
// when src is a fill surface and as a blit otherwise.
func (c *SurfaceCache) copySurface(src, dst *Surface, copyIv memutils.Interval) error {
	if src == dst {
		panic("surface copied onto itself")
	}
	subrectParams := dst.FromInterval(copyIv)
	if subrectParams.Interval() != copyIv {
		panic("copy interval is not a rectangle in the destination surface")
	}

	if src.Kind == texture.KindFill {
		// Rebase the pattern to the phase it has at the copy start.
		fillOffset := (copyIv.Start - src.Addr) % src.FillSize
		var pattern [4]byte
		for i := range pattern {
			pattern[i] = src.FillData[(fillOffset+uint32(i))%src.FillSize]
		}
		value := texture.MakeClearValue(dst.Kind, dst.Format, pattern[:])
		return c.runtime.ClearTexture(dst.Texture, texture.Clear{
			Level: 0,
			Rect:  dst.ScaledSubRect(subrectParams),
		}, value)
	}

	if src.CanSubRect(subrectParams) {
		return c.runtime.BlitTextures(src.Texture, dst.Texture, texture.Blit{
			SrcRect: src.ScaledSubRect(subrectParams),
			DstRect: dst.ScaledSubRect(subrectParams),
		})
	}

	panic("copy source cannot service the destination region")
}

// blitSurfaces transfers srcRect of src into dstRect of dst when the
// formats allow it, degrading to a plain copy when no scaling or flip is
// involved. Returns false without error when the formats cannot blit.
func (c *SurfaceCache) blitSurfaces(src *Surface, srcRect texture.Rect, dst *Surface, dstRect texture.Rect) (bool, error) {
	if !formatsBlittable(src.Format, dst.Format) {
		c.logger.Error("cannot blit between incompatible formats",
			"src", src.Format.String(), "dst", dst.Format.String())
		return false, nil
	}

	dst.InvalidateAllWatchers()

	if srcRect.Width() == dstRect.Width() && srcRect.Height() == dstRect.Height() &&
		!srcRect.Flipped() && !dstRect.Flipped() {
		err := c.runtime.CopyTextures(src.Texture, dst.Texture, texture.Copy{
			SrcOffset: texture.Offset{X: srcRect.Left, Y: srcRect.Top},
			DstOffset: texture.Offset{X: dstRect.Left, Y: dstRect.Top},
			Extent:    texture.Extent{Width: srcRect.Width(), Height: srcRect.Height()},
		})
		return err == nil, err
	}

	err := c.runtime.BlitTextures(src.Texture, dst.Texture, texture.Blit{
		SrcRect: srcRect,
		DstRect: dstRect,
	})
	return err == nil, err
}

// formatsBlittable reports whether two formats live in the same host aspect
// group and can be transferred directly.
func formatsBlittable(a, b texture.PixelFormat) bool {
	return blitGroup(a) == blitGroup(b)
}

func blitGroup(f texture.PixelFormat) int {
	switch texture.KindFromFormat(f) {
	case texture.KindColor, texture.KindTexture, texture.KindFill:
		return 0
	case texture.KindDepth:
		return 1
	case texture.KindDepthStencil:
		return 2
	}
	return 3
}

// duplicateSurface clones src's content and validity into dst, which must
// fully contain src, and transfers dirty ownership of src's spans to dst.
func (c *SurfaceCache) duplicateSurface(src, dst *Surface) error {
	if dst.Addr > src.Addr || dst.End < src.End {
		panic("duplicate destination does not contain the source")
	}

	if _, err := c.blitSurfaces(src, src.ScaledRect(), dst, dst.ScaledSubRect(src.SurfaceParams)); err != nil {
		return err
	}

	dst.InvalidRegions.Erase(src.Interval())
	dst.InvalidRegions.AddSet(src.InvalidRegions)
	c.dirty.rehome(src, dst, src.Interval())
	return nil
}

// noUnimplementedReinterpretations reports whether no registered surface
// holds the region's data in a format we lack a reinterpreter for. A false
// result means an upload would clobber GPU data we could have converted.
func (c *SurfaceCache) noUnimplementedReinterpretations(s *Surface, params *SurfaceParams, iv memutils.Interval) bool {
	implemented := true
	for _, format := range texture.Formats {
		if format.BitsPerPixel() != s.Format.BitsPerPixel() || format == s.Format {
			continue
		}
		params.Format = format
		if c.findMatch(MatchCopy, *params, ScaleIgnore, &iv) != nil {
			c.logger.Warn("missing pixel format reinterpreter",
				"from", format.String(), "to", s.Format.String())
			implemented = false
		}
	}
	params.Format = s.Format
	return implemented
}

// intervalHasInvalidFormat reports whether some surface with an invalid
// pixel format overlaps iv. Such data can only be reconstructed through
// guest memory.
func (c *SurfaceCache) intervalHasInvalidFormat(iv memutils.Interval) bool {
	for _, s := range c.surfacesInRange(iv) {
		if s.Format == texture.FormatInvalid {
			c.logger.Debug("region overlaps a surface with an invalid pixel format", "surface", s.String())
			return true
		}
	}
	return false
}

// validateByReinterpretation tries to satisfy iv by converting data that a
// registered surface holds in a different format of the same density.
func (c *SurfaceCache) validateByReinterpretation(s *Surface, params *SurfaceParams, iv memutils.Interval) (bool, error) {
	for _, r := range c.runtime.Reinterpreters(s.Format) {
		params.Format = r.SourceFormat()
		src := c.findMatch(MatchCopy, *params, ScaleIgnore, &iv)
		if src == nil {
			continue
		}

		reinterpretIv := src.CopyableInterval(*params)
		reinterpretParams := s.FromInterval(reinterpretIv)
		srcRect := src.ScaledSubRect(reinterpretParams)
		dstRect := s.ScaledSubRect(reinterpretParams)

		params.Format = s.Format
		if err := r.Reinterpret(src.Texture, srcRect, s.Texture, dstRect); err != nil {
			return false, err
		}
		return true, nil
	}
	params.Format = s.Format
	return false, nil
}
