package cache

import (
	"github.com/hostgpu/surfcache/texture"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics is a point-in-time summary of cache occupancy.
type Statistics struct {
	SurfaceCount     int
	FillSurfaceCount int
	CubeCount        int

	// RegisteredBytes counts guest bytes covered by registered surfaces,
	// with overlaps counted once per surface.
	RegisteredBytes uint64

	// InvalidBytes counts guest bytes whose host mirror is stale.
	InvalidBytes uint64

	// DirtyBytes counts guest bytes whose only current copy is a texture.
	DirtyBytes uint64

	CachedPages int
}

// CollectStatistics gathers a summary of the cache contents.
func (c *SurfaceCache) CollectStatistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collectStatisticsLocked()
}

func (c *SurfaceCache) collectStatisticsLocked() Statistics {
	stats := Statistics{
		CubeCount:   c.cubeCache.Count(),
		DirtyBytes:  uint64(c.dirty.len()),
		CachedPages: c.tracker.CachedPageCount(),
	}
	c.forEachRegistered(func(s *Surface) {
		stats.SurfaceCount++
		if s.Kind == texture.KindFill {
			stats.FillSurfaceCount++
		}
		stats.RegisteredBytes += uint64(s.Size)
		stats.InvalidBytes += uint64(s.InvalidRegions.Len())
	})
	return stats
}

// BuildStatsString renders the cache contents as JSON for diagnostics.
// When detailed is set, every registered surface and dirty span is listed.
func (c *SurfaceCache) BuildStatsString(detailed bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	stats := c.collectStatisticsLocked()
	totals := obj.Name("Totals").Object()
	totals.Name("Surfaces").Int(stats.SurfaceCount)
	totals.Name("FillSurfaces").Int(stats.FillSurfaceCount)
	totals.Name("Cubes").Int(stats.CubeCount)
	totals.Name("RegisteredBytes").Int(int(stats.RegisteredBytes))
	totals.Name("InvalidBytes").Int(int(stats.InvalidBytes))
	totals.Name("DirtyBytes").Int(int(stats.DirtyBytes))
	totals.Name("CachedPages").Int(stats.CachedPages)
	totals.Name("ResolutionScale").Int(int(c.resolutionScale))
	totals.End()

	if detailed {
		surfaces := obj.Name("Surfaces").Array()
		c.forEachRegistered(func(s *Surface) {
			so := surfaces.Object()
			so.Name("Addr").Int(int(s.Addr))
			so.Name("Size").Int(int(s.Size))
			so.Name("Width").Int(int(s.Width))
			so.Name("Height").Int(int(s.Height))
			so.Name("Stride").Int(int(s.Stride))
			so.Name("Format").String(s.Format.String())
			so.Name("ResScale").Int(int(s.ResScale))
			so.Name("Tiled").Bool(s.IsTiled)
			so.Name("InvalidBytes").Int(int(s.InvalidRegions.Len()))
			so.End()
		})
		surfaces.End()

		dirty := obj.Name("DirtyRegions").Array()
		for _, entry := range c.dirty.entries {
			do := dirty.Object()
			do.Name("Start").Int(int(entry.interval.Start))
			do.Name("End").Int(int(entry.interval.End))
			do.Name("Owner").Int(int(entry.owner.Addr))
			do.End()
		}
		dirty.End()
	}

	obj.End()
	return string(writer.Bytes())
}
