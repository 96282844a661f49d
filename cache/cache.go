package cache

import (
	"sync"

	"github.com/dolthub/swiss"
	"github.com/hostgpu/surfcache/memutils"
	"github.com/hostgpu/surfcache/texture"
	"golang.org/x/exp/slog"
)

// SmallWriteThreshold is the largest write size assumed to come from the
// emulated CPU rather than a DMA engine. Flushes and invalidations at or
// below it take the conservative paths: flushes widen to the whole owning
// entry, CPU invalidations evict the touched surface outright.
const SmallWriteThreshold = 8

// ScaleMatch controls how strictly a lookup binds the resolution scale.
type ScaleMatch int

const (
	// ScaleExact accepts only surfaces at the requested scale.
	ScaleExact ScaleMatch = iota
	// ScaleUpscale accepts the requested scale or higher.
	ScaleUpscale
	// ScaleIgnore accepts any scale.
	ScaleIgnore
)

// MatchFlags selects which match criteria a cache lookup may use.
type MatchFlags uint8

const (
	// MatchInvalid admits surfaces with stale content in the looked-up
	// region.
	MatchInvalid MatchFlags = 1 << iota
	MatchExact
	MatchSubRect
	MatchCopy
	MatchExpand
	MatchTexCopy
)

// CreateOptions configures a new SurfaceCache.
type CreateOptions struct {
	// Logger receives cache diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// ResolutionScale is the initial host-to-guest resolution multiplier
	// for framebuffer surfaces. Defaults to 1.
	ResolutionScale uint16
}

// SurfaceCache keeps host textures mirroring guest memory regions and
// reconciles the two views on demand. All exported methods are safe for
// concurrent use; everything runs under one cache-wide mutex.
type SurfaceCache struct {
	mu      sync.Mutex
	logger  *slog.Logger
	runtime TextureRuntime
	mem     Memory
	tracker *PageTracker

	// Notifier is exposed so the register dispatcher can publish register
	// writes to components that shadow display state.
	Notifier RegisterNotifier

	// buckets indexes registered surfaces by the pages they overlap. A
	// surface appears once in every page bucket it touches.
	buckets *swiss.Map[uint32, []*Surface]

	// dirty maps guest spans whose authoritative content lives only in a
	// surface's texture, not in guest memory.
	dirty surfaceMap

	cubeCache *swiss.Map[CubeConfig, *Surface]

	// downloadQueue holds the guest memory writeback closures for
	// downloads issued since the last runtime Finish.
	downloadQueue []func()

	// removeSurfaces collects surfaces whose eviction is deferred to the
	// next invalidation sweep, where pending dirty ownership is resolved.
	removeSurfaces []*Surface

	resolutionScale uint16
}

// New creates a cache driving the given runtime and guest memory.
func New(runtime TextureRuntime, mem Memory, o CreateOptions) *SurfaceCache {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ResolutionScale == 0 {
		o.ResolutionScale = 1
	}
	c := &SurfaceCache{
		logger:          o.Logger,
		runtime:         runtime,
		mem:             mem,
		tracker:         NewPageTracker(mem),
		buckets:         swiss.NewMap[uint32, []*Surface](64),
		cubeCache:       swiss.NewMap[CubeConfig, *Surface](8),
		resolutionScale: o.ResolutionScale,
	}
	c.tracker.Flusher = func() {
		if err := c.FlushAll(); err != nil {
			c.logger.Error("flush requested by page tracker failed", "err", err)
		}
	}
	return c
}

// Tracker exposes the page reference tracker, mainly for stats and tests.
func (c *SurfaceCache) Tracker() *PageTracker {
	return c.tracker
}

// ResolutionScale returns the current framebuffer scale factor.
func (c *SurfaceCache) ResolutionScale() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolutionScale
}

func (c *SurfaceCache) createSurface(params SurfaceParams) (*Surface, error) {
	s := &Surface{SurfaceParams: params}
	s.InvalidRegions.Add(s.Interval())

	if params.Kind != texture.KindFill {
		tex, err := c.runtime.Allocate(params.ScaledWidth(), params.ScaledHeight(), params.Format, params.TexType)
		if err != nil {
			return nil, err
		}
		s.Texture = tex
	}
	memutils.DebugValidate(s)
	return s, nil
}

func (c *SurfaceCache) registerSurface(s *Surface) {
	if s.registered {
		return
	}
	s.registered = true
	s.Acquire()
	for page := s.Addr >> PageBits; page <= (s.End-1)>>PageBits; page++ {
		bucket, _ := c.buckets.Get(page)
		c.buckets.Put(page, append(bucket, s))
	}
	c.tracker.UpdatePagesCachedCount(s.Addr, s.Size, 1)
}

func (c *SurfaceCache) unregisterSurface(s *Surface) {
	if !s.registered {
		return
	}
	s.registered = false
	c.tracker.UpdatePagesCachedCount(s.Addr, s.Size, -1)
	for page := s.Addr >> PageBits; page <= (s.End-1)>>PageBits; page++ {
		bucket, ok := c.buckets.Get(page)
		if !ok {
			continue
		}
		for n, entry := range bucket {
			if entry == s {
				bucket = append(bucket[:n], bucket[n+1:]...)
				break
			}
		}
		if len(bucket) == 0 {
			c.buckets.Delete(page)
		} else {
			c.buckets.Put(page, bucket)
		}
	}
	s.Release()
}

// surfacesInRange collects the registered surfaces overlapping iv, each
// once, in ascending address order.
func (c *SurfaceCache) surfacesInRange(iv memutils.Interval) []*Surface {
	if iv.Empty() {
		return nil
	}
	var out []*Surface
	seen := make(map[*Surface]struct{})
	for page := iv.Start >> PageBits; page <= (iv.End-1)>>PageBits; page++ {
		bucket, ok := c.buckets.Get(page)
		if !ok {
			continue
		}
		for _, s := range bucket {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			if s.Interval().Overlaps(iv) {
				out = append(out, s)
			}
		}
	}
	return out
}

// forEachRegistered visits every registered surface exactly once.
func (c *SurfaceCache) forEachRegistered(fn func(*Surface)) {
	seen := make(map[*Surface]struct{})
	c.buckets.Iter(func(_ uint32, bucket []*Surface) bool {
		for _, s := range bucket {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			fn(s)
		}
		return false
	})
}

// findMatch returns the best registered surface satisfying any of the
// requested match criteria for params. Preference order: higher resolution
// scale first, then surfaces whose content is valid over the lookup span,
// then the larger matched interval. validate is required for MatchCopy and
// narrows the validity test to the span being validated.
func (c *SurfaceCache) findMatch(flags MatchFlags, params SurfaceParams, scaleMatch ScaleMatch, validate *memutils.Interval) *Surface {
	if flags&MatchCopy != 0 && validate == nil {
		panic("copy matches require a validation interval")
	}

	var (
		match         *Surface
		matchValid    bool
		matchScale    uint16
		matchInterval memutils.Interval
	)

	for _, s := range c.surfacesInRange(params.Interval()) {
		scaleOK := params.ResScale <= s.ResScale
		if scaleMatch == ScaleExact {
			scaleOK = params.ResScale == s.ResScale
		}

		validIv := params.Interval()
		if validate != nil {
			validIv = *validate
		}
		// Copy matches inspect the copyable interval themselves, so they
		// count as valid here.
		isValid := flags&MatchCopy != 0 || s.IsRegionValid(validIv)
		if flags&MatchInvalid == 0 && !isValid {
			continue
		}

		consider := func(flag MatchFlags, try func() (bool, memutils.Interval)) {
			if flags&flag == 0 {
				return
			}
			matched, iv := try()
			if !matched {
				return
			}
			if !scaleOK && scaleMatch != ScaleIgnore && s.Kind != texture.KindFill {
				return
			}
			switch {
			case s.ResScale < matchScale:
				return
			case s.ResScale == matchScale && !isValid && matchValid:
				return
			case s.ResScale == matchScale && isValid == matchValid && iv.Len() <= matchInterval.Len():
				return
			}
			match = s
			matchValid = isValid
			matchScale = s.ResScale
			matchInterval = iv
		}

		consider(MatchExact, func() (bool, memutils.Interval) {
			return s.ExactMatch(params), s.Interval()
		})
		consider(MatchSubRect, func() (bool, memutils.Interval) {
			return s.CanSubRect(params), s.Interval()
		})
		consider(MatchCopy, func() (bool, memutils.Interval) {
			copyIv := s.CopyableInterval(params.FromInterval(*validate))
			matched := copyIv.Intersect(*validate).Len() != 0 && s.CanCopy(params, copyIv)
			return matched, copyIv
		})
		consider(MatchExpand, func() (bool, memutils.Interval) {
			return s.CanExpand(params), s.Interval()
		})
		consider(MatchTexCopy, func() (bool, memutils.Interval) {
			return s.CanTexCopy(params), s.Interval()
		})
	}
	return match
}
