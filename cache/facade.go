package cache

import (
	"math"

	"github.com/hostgpu/surfcache/memutils"
	"github.com/hostgpu/surfcache/texture"
)

// GetSurface returns a registered surface exactly matching params, creating
// one when none exists. When loadIfCreate is set the requested span is
// validated before returning.
//
// The cache owns the returned surface and may evict it on any later
// mutating call; callers that keep the surface past that point must take
// their own reference with Acquire and drop it with Release.
func (c *SurfaceCache) GetSurface(params SurfaceParams, match ScaleMatch, loadIfCreate bool) (*Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getSurface(params, match, loadIfCreate)
}

func (c *SurfaceCache) getSurface(params SurfaceParams, match ScaleMatch, loadIfCreate bool) (*Surface, error) {
	if params.Addr == 0 || params.Height*params.Width == 0 {
		return nil, nil
	}
	if params.Width != params.Stride {
		panic("exact lookups cannot have a row gap, use GetSurfaceSubRect")
	}
	if params.IsTiled && (params.Width%texture.TileDim != 0 || params.Height%texture.TileDim != 0) {
		panic("tiled surface dimensions must be multiples of the tile size")
	}

	surface := c.findMatch(MatchExact|MatchInvalid, params, match, nil)
	if surface == nil {
		// Before creating at the requested scale, see if a higher scale
		// surface nearby should pull the new one up with it. A depth
		// buffer being reinterpreted as color is the common case.
		targetScale := params.ResScale
		if match != ScaleExact {
			probe := func(p SurfaceParams) {
				if expandable := c.findMatch(MatchExpand|MatchInvalid, p, match, nil); expandable != nil &&
					expandable.ResScale > targetScale {
					targetScale = expandable.ResScale
				}
			}
			probe(params)
			if params.Format == texture.FormatRGBA8 {
				probeParams := params
				probeParams.Format = texture.FormatD24S8
				probe(probeParams)
			}
		}

		newParams := params
		newParams.ResScale = targetScale
		created, err := c.createSurface(newParams)
		if err != nil {
			return nil, err
		}
		c.registerSurface(created)
		surface = created
	}

	if loadIfCreate {
		if err := c.validateSurface(surface, params.Addr, params.Size); err != nil {
			return nil, err
		}
	}
	return surface, nil
}

// GetSurfaceSubRect returns a surface containing the region described by
// params plus the rect locating that region within it. Existing surfaces
// are reused, grown or rebuilt at the requested scale as needed. Callers
// keeping the surface across later cache calls must Acquire it.
func (c *SurfaceCache) GetSurfaceSubRect(params SurfaceParams, match ScaleMatch, loadIfCreate bool) (*Surface, texture.Rect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getSurfaceSubRect(params, match, loadIfCreate)
}

func (c *SurfaceCache) getSurfaceSubRect(params SurfaceParams, match ScaleMatch, loadIfCreate bool) (*Surface, texture.Rect, error) {
	if params.Addr == 0 || params.Height*params.Width == 0 {
		return nil, texture.Rect{}, nil
	}

	surface := c.findMatch(MatchSubRect|MatchInvalid, params, match, nil)

	if surface == nil && match != ScaleIgnore {
		// A lower scale surface covering the region is still worth reusing:
		// recreate it at the requested scale and let duplicate-free
		// validation fill it back in.
		surface = c.findMatch(MatchSubRect|MatchInvalid, params, ScaleIgnore, nil)
		if surface != nil {
			newParams := surface.SurfaceParams
			newParams.ResScale = params.ResScale
			created, err := c.createSurface(newParams)
			if err != nil {
				return nil, texture.Rect{}, err
			}
			c.registerSurface(created)
			surface = created
		}
	}

	aligned := params
	if params.IsTiled {
		aligned.Height = memutils.AlignUp(params.Height, texture.TileDim)
		aligned.Width = memutils.AlignUp(params.Width, texture.TileDim)
		aligned.Stride = memutils.AlignUp(params.Stride, texture.TileDim)
		aligned.UpdateParams()
	}

	if surface == nil {
		surface = c.findMatch(MatchExpand|MatchInvalid, aligned, match, nil)
		if surface != nil {
			aligned.Width = aligned.Stride
			aligned.UpdateParams()

			newParams := surface.SurfaceParams
			newParams.Addr = minu32(aligned.Addr, surface.Addr)
			newParams.End = maxu32(aligned.End, surface.End)
			newParams.Size = newParams.End - newParams.Addr
			rowBytes := aligned.BytesInPixels(aligned.Stride)
			if newParams.Size%rowBytes != 0 {
				panic("expanded surface does not cover whole rows")
			}
			newParams.Height = newParams.Size / rowBytes

			created, err := c.createSurface(newParams)
			if err != nil {
				return nil, texture.Rect{}, err
			}
			if err := c.duplicateSurface(surface, created); err != nil {
				return nil, texture.Rect{}, err
			}
			// The old surface may still be a pending dirty owner, so its
			// removal is deferred to the next invalidation sweep.
			surface.UnlinkAllWatchers()
			c.queueRemove(surface)
			c.registerSurface(created)
			surface = created
		}
	}

	if surface == nil {
		newParams := aligned
		// Can't have a gap between rows when creating a surface.
		newParams.Width = aligned.Stride
		newParams.UpdateParams()
		created, err := c.getSurface(newParams, match, loadIfCreate)
		if created == nil || err != nil {
			return nil, texture.Rect{}, err
		}
		surface = created
	} else if loadIfCreate {
		if err := c.validateSurface(surface, aligned.Addr, aligned.Size); err != nil {
			return nil, texture.Rect{}, err
		}
	}

	return surface, surface.ScaledSubRect(params), nil
}

// GetTextureSurface returns the surface backing a texture binding, with mip
// levels 1..maxLevel populated from their guest chains. Returns nil for
// layouts the hardware cannot express. Callers keeping the surface across
// later cache calls must Acquire it.
func (c *SurfaceCache) GetTextureSurface(info TextureInfo, maxLevel uint32) (*Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getTextureSurface(info, maxLevel)
}

func (c *SurfaceCache) getTextureSurface(info TextureInfo, maxLevel uint32) (*Surface, error) {
	params := SurfaceParams{
		Addr:     info.Address,
		Width:    info.Width,
		Height:   info.Height,
		IsTiled:  true,
		Format:   info.Format,
		ResScale: 1,
	}
	params.UpdateParams()

	minWidth := info.Width >> maxLevel
	minHeight := info.Height >> maxLevel
	if minWidth%texture.TileDim != 0 || minHeight%texture.TileDim != 0 {
		c.logger.Error("texture size is not a multiple of the tile size",
			"width", minWidth, "height", minHeight)
		return nil, nil
	}
	if info.Width != minWidth<<maxLevel || info.Height != minHeight<<maxLevel {
		c.logger.Error("texture size does not support the requested mipmap level",
			"width", info.Width, "height", info.Height, "max_level", maxLevel)
		return nil, nil
	}

	surface, err := c.getSurface(params, ScaleIgnore, true)
	if surface == nil || err != nil {
		return nil, err
	}

	if maxLevel != 0 {
		if maxLevel >= MaxMipLevels+1 {
			c.logger.Error("unsupported mipmap level", "max_level", maxLevel)
			return nil, nil
		}
		if surface.MaxLevel < maxLevel {
			if err := c.runtime.GenerateMipmaps(surface.Texture, maxLevel); err != nil {
				return nil, err
			}
			surface.MaxLevel = maxLevel
		}

		// Mip levels are stored contiguously after the base image, each a
		// quarter of the previous one.
		levelParams := surface.SurfaceParams
		for level := uint32(1); level <= maxLevel; level++ {
			levelParams.Addr += levelParams.BytesInPixels(levelParams.Width * levelParams.Height)
			levelParams.Width /= 2
			levelParams.Height /= 2
			levelParams.Stride = 0
			levelParams.UpdateParams()

			watcher := surface.levelWatchers[level-1]
			if watcher == nil || watcher.Get() == nil {
				levelSurface, err := c.getSurface(levelParams, ScaleIgnore, true)
				if err != nil {
					return nil, err
				}
				if levelSurface != nil {
					watcher = levelSurface.CreateWatcher()
				} else {
					watcher = nil
				}
				surface.levelWatchers[level-1] = watcher
			}

			if watcher != nil && !watcher.IsValid() {
				levelSurface := watcher.Get()
				if !levelSurface.InvalidRegions.Empty() {
					if err := c.validateSurface(levelSurface, levelSurface.Addr, levelSurface.Size); err != nil {
						return nil, err
					}
				}
				err := c.runtime.BlitTextures(levelSurface.Texture, surface.Texture, texture.Blit{
					DstLevel: level,
					SrcRect:  levelSurface.ScaledRect(),
					DstRect:  levelParams.Rect().Scaled(uint32(surface.ResScale)),
				})
				if err != nil {
					return nil, err
				}
				watcher.Validate()
			}
		}
	}
	return surface, nil
}

// GetTextureCube returns the cube map surface for config, assembling and
// refreshing its six faces from their backing surfaces. A face at an
// unmapped address is skipped rather than failing the whole cube. Callers
// keeping the cube across later cache calls must Acquire it.
func (c *SurfaceCache) GetTextureCube(config CubeConfig) (*Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cube, ok := c.cubeCache.Get(config)
	faceAddrs := [6]uint32{config.PX, config.NX, config.PY, config.NY, config.PZ, config.NZ}

	if !ok {
		maxScale := uint16(1)
		params := SurfaceParams{
			Addr:     config.PX,
			Width:    config.Width,
			Height:   config.Width,
			IsTiled:  true,
			TexType:  texture.TextureCubeMap,
			Format:   config.Format,
			ResScale: maxScale,
		}
		params.UpdateParams()
		params.Kind = texture.KindTexture

		created, err := c.createSurface(params)
		if err != nil {
			return nil, err
		}
		// Cube surfaces live in their own cache, keyed by config; they are
		// never registered against guest pages.
		cube = created
		c.cubeCache.Put(config, cube)
	}

	for face, addr := range faceAddrs {
		watcher := cube.levelWatchers[face]
		if watcher != nil && watcher.Get() != nil {
			continue
		}
		if addr == 0 {
			cube.levelWatchers[face] = nil
			continue
		}
		info := TextureInfo{
			Address: addr,
			Width:   config.Width,
			Height:  config.Width,
			Format:  config.Format,
		}
		faceSurface, err := c.getTextureSurface(info, 0)
		if err != nil {
			return nil, err
		}
		if faceSurface != nil {
			cube.levelWatchers[face] = faceSurface.CreateWatcher()
		} else {
			cube.levelWatchers[face] = nil
		}
	}

	scaledSize := cube.ScaledWidth()
	for face := 0; face < 6; face++ {
		watcher := cube.levelWatchers[face]
		if watcher == nil || watcher.IsValid() {
			continue
		}
		faceSurface := watcher.Get()
		if !faceSurface.InvalidRegions.Empty() {
			if err := c.validateSurface(faceSurface, faceSurface.Addr, faceSurface.Size); err != nil {
				return nil, err
			}
		}
		err := c.runtime.BlitTextures(faceSurface.Texture, cube.Texture, texture.Blit{
			DstLayer: uint32(face),
			SrcRect:  faceSurface.ScaledRect(),
			DstRect:  texture.Rect{Left: 0, Top: 0, Right: scaledSize, Bottom: scaledSize},
		})
		if err != nil {
			return nil, err
		}
		watcher.Validate()
	}
	return cube, nil
}

// GetFramebufferSurfaces resolves the color and depth render targets for a
// draw into the viewport. Overlapping color and depth regions disable the
// depth binding; mismatched sub-rects fall back to whole surfaces. Callers
// keeping either surface across later cache calls must Acquire it.
func (c *SurfaceCache) GetFramebufferSurfaces(config FramebufferConfig, viewport texture.Rect) (FramebufferSurfaces, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clamped := texture.Rect{
		Left:   minu32(viewport.Left, config.Width),
		Right:  minu32(viewport.Right, config.Width),
		Top:    minu32(viewport.Top, config.Height),
		Bottom: minu32(viewport.Bottom, config.Height),
	}

	colorParams := SurfaceParams{
		IsTiled:  true,
		ResScale: c.resolutionScale,
		Width:    config.Width,
		Height:   config.Height,
	}
	depthParams := colorParams
	colorParams.Addr = config.ColorAddress
	colorParams.Format = config.ColorFormat
	colorParams.UpdateParams()
	depthParams.Addr = config.DepthAddress
	depthParams.Format = config.DepthFormat
	depthParams.UpdateParams()

	colorVp := colorParams.SubRectInterval(clamped)
	depthVp := depthParams.SubRectInterval(clamped)

	useColor := config.UseColor
	useDepth := config.UseDepth
	if useColor && useDepth && colorVp.Overlaps(depthVp) {
		c.logger.Error("color and depth framebuffer memory regions overlap, disabling depth")
		useDepth = false
	}

	var result FramebufferSurfaces
	var colorRect, depthRect texture.Rect
	var err error
	if useColor {
		result.Color, colorRect, err = c.getSurfaceSubRect(colorParams, ScaleExact, false)
		if err != nil {
			return FramebufferSurfaces{}, err
		}
	}
	if useDepth {
		result.Depth, depthRect, err = c.getSurfaceSubRect(depthParams, ScaleExact, false)
		if err != nil {
			return FramebufferSurfaces{}, err
		}
	}

	switch {
	case result.Color != nil && result.Depth != nil:
		result.Rect = colorRect
		if colorRect != depthRect {
			// Color and depth surfaces must share dimensions and offsets;
			// rebuild both as whole surfaces when the sub-rects disagree.
			result.Color, err = c.getSurface(colorParams, ScaleExact, false)
			if err != nil {
				return FramebufferSurfaces{}, err
			}
			result.Depth, err = c.getSurface(depthParams, ScaleExact, false)
			if err != nil {
				return FramebufferSurfaces{}, err
			}
			result.Rect = result.Color.ScaledRect()
		}
	case result.Color != nil:
		result.Rect = colorRect
	case result.Depth != nil:
		result.Rect = depthRect
	}

	if result.Color != nil {
		if err := c.validateSurface(result.Color, colorVp.Start, colorVp.Len()); err != nil {
			return FramebufferSurfaces{}, err
		}
		result.Color.InvalidateAllWatchers()
	}
	if result.Depth != nil {
		if err := c.validateSurface(result.Depth, depthVp.Start, depthVp.Len()); err != nil {
			return FramebufferSurfaces{}, err
		}
		result.Depth.InvalidateAllWatchers()
	}
	return result, nil
}

// GetFillSurface registers a fill surface for a memory fill operation. The
// caller follows up with InvalidateRegion naming the fill surface as owner,
// which is what displaces overlapping cached content. Callers keeping the
// surface across later cache calls must Acquire it.
func (c *SurfaceCache) GetFillSurface(config FillConfig) *Surface {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Surface{
		SurfaceParams: SurfaceParams{
			Addr:     config.StartAddress,
			End:      config.EndAddress,
			Size:     config.EndAddress - config.StartAddress,
			Kind:     texture.KindFill,
			Format:   texture.FormatInvalid,
			ResScale: math.MaxUint16,
		},
		FillData: config.Value,
		FillSize: config.PatternSize(),
	}
	c.registerSurface(s)
	return s
}

// GetTexCopySurface resolves the source of a display-transfer texture copy.
// params measures Width and Stride in bytes. Returns the matched surface
// and the rect to copy from, or nil when no surface covers the copy.
// Callers keeping the surface across later cache calls must Acquire it.
func (c *SurfaceCache) GetTexCopySurface(params SurfaceParams) (*Surface, texture.Rect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	match := c.findMatch(MatchTexCopy|MatchInvalid, params, ScaleIgnore, nil)
	if match == nil {
		return nil, texture.Rect{}, nil
	}

	if err := c.validateSurface(match, params.Addr, params.Size); err != nil {
		return nil, texture.Rect{}, err
	}

	var sub SurfaceParams
	if params.Width != params.Stride {
		tiled := match.tiledMul()
		sub = params
		sub.Width = match.PixelsInBytes(params.Width) / tiled
		sub.Stride = match.PixelsInBytes(params.Stride) / tiled
		sub.Height *= tiled
	} else {
		sub = match.FromInterval(params.Interval())
		if sub.Interval() != params.Interval() {
			panic("texture copy match does not cover the copy exactly")
		}
	}
	return match, match.ScaledSubRect(sub), nil
}

// FlushRegion writes GPU-authored data overlapping [addr, addr+size) back
// to guest memory.
func (c *SurfaceCache) FlushRegion(addr, size uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushRegionLocked(addr, size, nil)
}

// FlushAll writes every dirty span back to guest memory.
func (c *SurfaceCache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushRegionLocked(0, math.MaxUint32, nil)
}

func (c *SurfaceCache) flushRegionLocked(addr, size uint32, filter *Surface) error {
	if size == 0 {
		return nil
	}
	flushIv := memutils.IntervalFromSize(addr, size)

	var flushed memutils.IntervalSet
	for _, entry := range c.dirty.overlapping(flushIv) {
		// Small flushes are CPU reads; flush the whole owned span so the
		// entry does not fragment into pieces below the tile granularity.
		iv := entry.interval
		if size > SmallWriteThreshold {
			iv = iv.Intersect(flushIv)
		}

		owner := entry.owner
		if filter != nil && filter != owner {
			continue
		}
		if !owner.IsRegionValid(iv) {
			panic("dirty owner holds no valid data for its own span")
		}

		if owner.Kind == texture.KindFill {
			c.downloadFillSurface(owner, iv)
		} else if err := c.downloadSurface(owner, iv); err != nil {
			return err
		}
		flushed.Add(iv)
	}

	// Downloads only read back after the GPU has drained; run the queued
	// guest memory writebacks in one batch.
	if len(c.downloadQueue) > 0 {
		c.runtime.Finish()
		for _, fn := range c.downloadQueue {
			fn()
		}
		c.downloadQueue = c.downloadQueue[:0]
	}

	c.dirty.eraseSet(flushed)
	return nil
}

// InvalidateRegion reacts to [addr, addr+size) changing. A nil owner means
// the CPU (or DMA) wrote guest memory, so overlapping cached content is
// stale. A non-nil owner means that surface's texture now holds the only
// current copy of the span.
func (c *SurfaceCache) InvalidateRegion(addr, size uint32, owner *Surface) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateRegionLocked(addr, size, owner)
}

func (c *SurfaceCache) invalidateRegionLocked(addr, size uint32, owner *Surface) error {
	if size == 0 {
		return nil
	}
	iv := memutils.IntervalFromSize(addr, size)

	if owner != nil {
		if owner.Kind == texture.KindTexture {
			panic("texture surfaces cannot own dirty regions")
		}
		if addr < owner.Addr || iv.End > owner.End {
			panic("dirty span escapes the owning surface")
		}
		// The owner's texture holds the span now, whatever was invalid
		// there before.
		owner.MarkValid(iv)
	}

	for _, s := range c.surfacesInRange(iv) {
		if s == owner {
			continue
		}

		// A small CPU write is likely the start of a plain memory reuse of
		// the region; evict so the pages can go back to uncached.
		if owner == nil && size <= SmallWriteThreshold {
			if err := c.flushRegionLocked(s.Addr, s.Size, s); err != nil {
				return err
			}
			c.queueRemove(s)
			continue
		}

		s.Invalidate(iv)
		// Fully stale surfaces would only clog the lookup structures.
		if s.IsFullyInvalid() {
			c.queueRemove(s)
		}
	}

	if owner != nil {
		c.dirty.set(iv, owner)
	} else {
		c.dirty.erase(iv)
	}

	for _, rs := range c.removeSurfaces {
		if rs == owner {
			// The owner was already retired by an expand; its dirty data
			// must survive in the surface that absorbed it.
			expanded := c.findMatch(MatchSubRect|MatchInvalid, owner.SurfaceParams, ScaleIgnore, nil)
			if expanded == nil {
				panic("no surface can absorb an evicted dirty owner")
			}
			missing := owner.InvalidRegions.Clone()
			missing.EraseSet(expanded.InvalidRegions)
			if !missing.Empty() {
				continue
			}
			if err := c.duplicateSurface(owner, expanded); err != nil {
				return err
			}
		}
		c.unregisterSurface(rs)
	}
	c.removeSurfaces = c.removeSurfaces[:0]
	return nil
}

func (c *SurfaceCache) queueRemove(s *Surface) {
	for _, queued := range c.removeSurfaces {
		if queued == s {
			return
		}
	}
	c.removeSurfaces = append(c.removeSurfaces, s)
}

// SetResolutionScale changes the framebuffer scale factor. All cached
// content is flushed and evicted, since surfaces at the old scale cannot be
// mixed with new ones.
func (c *SurfaceCache) SetResolutionScale(scale uint16) error {
	if scale == 0 {
		panic("resolution scale must be at least 1")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if scale == c.resolutionScale {
		return nil
	}

	if err := c.flushRegionLocked(0, math.MaxUint32, nil); err != nil {
		return err
	}
	var all []*Surface
	c.forEachRegistered(func(s *Surface) { all = append(all, s) })
	for _, s := range all {
		s.UnlinkAllWatchers()
		c.unregisterSurface(s)
	}
	c.clearCubeCacheLocked()
	c.removeSurfaces = c.removeSurfaces[:0]
	c.dirty = surfaceMap{}

	c.resolutionScale = scale
	return nil
}

// ClearAll drops all cached state without writing anything back unless
// flush is set. Used when the emulated memory map is torn down or replaced.
func (c *SurfaceCache) ClearAll(flush bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if flush {
		// Best effort; a failing backend should not block teardown.
		if err := c.flushRegionLocked(0, math.MaxUint32, nil); err != nil {
			c.logger.Error("flush during cache teardown failed", "err", err)
		}
	}

	var all []*Surface
	c.forEachRegistered(func(s *Surface) { all = append(all, s) })
	for _, s := range all {
		s.UnlinkAllWatchers()
		c.unregisterSurface(s)
	}
	c.clearCubeCacheLocked()
	c.removeSurfaces = c.removeSurfaces[:0]
	c.dirty = surfaceMap{}
	c.downloadQueue = nil
	c.tracker.ClearAll(false)
}

func (c *SurfaceCache) clearCubeCacheLocked() {
	c.cubeCache.Iter(func(_ CubeConfig, cube *Surface) bool {
		if cube.Texture != nil {
			cube.Texture.Release()
			cube.Texture = nil
		}
		return false
	})
	c.cubeCache.Clear()
}
