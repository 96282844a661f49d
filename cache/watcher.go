package cache

// Watcher observes a surface on behalf of a consumer that keeps a derived
// copy of its content, such as a mip level or a cube map face. The owning
// surface flips the watcher to invalid whenever its content changes, and
// unlinks it entirely when the surface is retired.
type Watcher struct {
	surface *Surface
	valid   bool
}

// Get returns the watched surface, or nil if it has been retired.
func (w *Watcher) Get() *Surface {
	return w.surface
}

// IsValid reports whether the derived copy still matches the watched
// surface.
func (w *Watcher) IsValid() bool {
	return w.surface != nil && w.valid
}

// Validate records that the derived copy has been refreshed from the
// watched surface.
func (w *Watcher) Validate() {
	if w.surface == nil {
		panic("validating a watcher whose surface was retired")
	}
	w.valid = true
}
