package cache

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/hostgpu/surfcache/memutils"
	"github.com/hostgpu/surfcache/texture"
)

// MaxMipLevels is the number of mip levels beyond the base image a texture
// surface can carry. The watcher slots double as cube face slots, of which
// there are six, so both uses fit.
const MaxMipLevels = 7

// Surface is a cached host texture backed by a guest memory region. The
// texture mirrors the guest data except where InvalidRegions says otherwise.
type Surface struct {
	SurfaceParams

	// Texture is nil for fill surfaces, which carry their content in
	// FillData instead.
	Texture Texture

	// InvalidRegions tracks the guest byte spans whose host texture content
	// is stale and must be validated before the texture is sampled.
	InvalidRegions memutils.IntervalSet

	FillData [4]byte
	FillSize uint32

	MaxLevel uint32

	registered    bool
	refs          int32
	levelWatchers [MaxMipLevels]*Watcher
	watchers      []*Watcher
}

// Acquire takes a reference for a holder that wants the surface's texture
// to outlive eviction from the cache. The cache itself holds one reference
// while the surface is registered.
func (s *Surface) Acquire() {
	s.refs++
}

// Release drops a reference. The backing texture is freed when the last
// reference goes away.
func (s *Surface) Release() {
	if s.refs <= 0 {
		panic("surface released more times than acquired")
	}
	s.refs--
	if s.refs == 0 && s.Texture != nil {
		s.Texture.Release()
		s.Texture = nil
	}
}

// IsRegionValid reports whether the host texture holds current data for the
// whole interval.
func (s *Surface) IsRegionValid(iv memutils.Interval) bool {
	return s.InvalidRegions.Disjoint(iv)
}

// IsFullyInvalid reports whether no byte of the surface holds current data.
func (s *Surface) IsFullyInvalid() bool {
	return s.InvalidRegions.Covers(s.Interval())
}

// Invalidate marks the given span stale and tells the watchers their
// mirrored content may no longer match.
func (s *Surface) Invalidate(iv memutils.Interval) {
	s.InvalidRegions.Add(iv.Intersect(s.Interval()))
	s.InvalidateAllWatchers()
}

// MarkValid removes the given span from the invalid set.
func (s *Surface) MarkValid(iv memutils.Interval) {
	s.InvalidRegions.Erase(iv)
}

// CreateWatcher returns a new watcher observing this surface. The watcher
// starts out invalid; callers re-validate it after copying content out.
func (s *Surface) CreateWatcher() *Watcher {
	w := &Watcher{surface: s}
	s.watchers = append(s.watchers, w)
	return w
}

func (s *Surface) InvalidateAllWatchers() {
	for _, w := range s.watchers {
		w.valid = false
	}
}

// UnlinkAllWatchers detaches every watcher so a retired surface cannot be
// reached through them anymore.
func (s *Surface) UnlinkAllWatchers() {
	for _, w := range s.watchers {
		w.surface = nil
		w.valid = false
	}
	s.watchers = s.watchers[:0]
}

// CanFill reports whether this fill surface can service fillIv for a
// surface described by dest: the span must form a rectangle in dest and the
// fill pattern must decode to a single per-pixel value in dest's format.
func (s *Surface) CanFill(dest SurfaceParams, fillIv memutils.Interval) bool {
	if s.Kind != texture.KindFill || !s.IsRegionValid(fillIv) ||
		fillIv.Start < s.Addr || fillIv.End > s.End {
		return false
	}
	sub := dest.FromInterval(fillIv)
	if sub.Interval() != fillIv {
		return false
	}
	if s.FillSize*8 != dest.Format.BitsPerPixel() {
		// The pattern and the pixel size disagree; accept only if the
		// pattern still repeats with the pixel period.
		destBytesPP := maxu32(dest.Format.BitsPerPixel()/8, 1)
		fillTest := make([]byte, s.FillSize*destBytesPP)
		for i := uint32(0); i < destBytesPP; i++ {
			copy(fillTest[i*s.FillSize:(i+1)*s.FillSize], s.FillData[:s.FillSize])
		}
		for i := uint32(0); i < s.FillSize; i++ {
			if !bytes.Equal(fillTest[destBytesPP*i:destBytesPP*(i+1)], fillTest[:destBytesPP]) {
				return false
			}
		}
		if dest.Format.BitsPerPixel() == 4 && fillTest[0]&0xF != fillTest[0]>>4 {
			return false
		}
	}
	return true
}

// CanCopy reports whether this surface can service the copy interval of a
// surface described by dest, either as a sub-rect blit or as a fill.
func (s *Surface) CanCopy(dest SurfaceParams, copyIv memutils.Interval) bool {
	sub := dest.FromInterval(copyIv)
	if sub.Interval() != copyIv {
		panic("copy interval is not a rectangle in the destination surface")
	}
	if s.CanSubRect(sub) {
		return true
	}
	if s.CanFill(dest, copyIv) {
		return true
	}
	return false
}

// CopyableInterval returns the largest rectangular piece of params'
// interval that this surface holds valid data for. The result may be empty.
func (s *Surface) CopyableInterval(params SurfaceParams) memutils.Interval {
	var result memutils.Interval
	tiled := params.tiledMul()
	tileBytes := params.BytesInPixels(tiled * tiled)
	rowBytes := params.BytesInPixels(params.Stride) * tiled

	overlap := memutils.IntervalSet{}
	overlap.Add(params.Interval().Intersect(s.Interval()))
	overlap.EraseSet(s.InvalidRegions)

	for _, valid := range overlap.Spans() {
		aligned := memutils.Interval{
			Start: params.Addr + memutils.AlignUp(valid.Start-params.Addr, tileBytes),
			End:   params.Addr + memutils.AlignDown(valid.End-params.Addr, tileBytes),
		}
		if tileBytes > valid.Len() || aligned.Empty() {
			continue
		}

		// Snap further to whole rows; a single row or a broken two-row
		// span falls back to the tile-aligned pieces.
		rect := memutils.Interval{
			Start: params.Addr + memutils.AlignUp(aligned.Start-params.Addr, rowBytes),
			End:   params.Addr + memutils.AlignDown(aligned.End-params.Addr, rowBytes),
		}
		if rect.Start > rect.End {
			rect = aligned
		} else if rect.Len() == 0 {
			row1 := memutils.Interval{Start: aligned.Start, End: rect.Start}
			row2 := memutils.Interval{Start: rect.Start, End: aligned.End}
			if row1.Len() > row2.Len() {
				rect = row1
			} else {
				rect = row2
			}
		}
		if rect.Len() > result.Len() {
			result = rect
		}
	}
	return result
}

// Validate checks internal consistency. It runs only in debug builds via
// memutils.DebugValidate.
func (s *Surface) Validate() error {
	if s.End != s.Addr+s.Size {
		return errors.Newf("surface interval is inconsistent: addr 0x%08x size %d end 0x%08x", s.Addr, s.Size, s.End)
	}
	if s.Stride < s.Width {
		return errors.Newf("surface stride %d is smaller than width %d", s.Stride, s.Width)
	}
	if err := s.InvalidRegions.Validate(); err != nil {
		return errors.Wrap(err, "surface invalid regions")
	}
	return nil
}

func (s *Surface) String() string {
	return fmt.Sprintf("surface 0x%08x-0x%08x %dx%d %s x%d", s.Addr, s.End, s.Width, s.Height, s.Format, s.ResScale)
}
