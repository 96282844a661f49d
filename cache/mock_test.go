package cache

import (
	"github.com/hostgpu/surfcache/texture"
)

type fakeTexture struct {
	released bool
}

func (t *fakeTexture) Release() {
	t.released = true
}

// fakeRuntime counts operations without doing any pixel work. Content-level
// behavior is covered by the integration tests against softrun.
type fakeRuntime struct {
	uploads   int
	downloads int
	copies    int
	blits     int
	clears    int
	finishes  int

	reinterpreters map[texture.PixelFormat][]Reinterpreter
}

func (r *fakeRuntime) Allocate(width, height uint32, format texture.PixelFormat, texType texture.TextureType) (Texture, error) {
	return &fakeTexture{}, nil
}

func (r *fakeRuntime) FindStaging(size uint32, upload bool) StagingBuffer {
	return StagingBuffer{Data: make([]byte, size), Size: size}
}

func (r *fakeRuntime) Upload(tex Texture, transfer texture.BufferCopy, staging StagingBuffer) error {
	r.uploads++
	return nil
}

func (r *fakeRuntime) Download(tex Texture, transfer texture.BufferCopy, staging StagingBuffer) error {
	r.downloads++
	return nil
}

func (r *fakeRuntime) CopyTextures(src, dst Texture, copyArea texture.Copy) error {
	r.copies++
	return nil
}

func (r *fakeRuntime) BlitTextures(src, dst Texture, blit texture.Blit) error {
	r.blits++
	return nil
}

func (r *fakeRuntime) ClearTexture(tex Texture, clear texture.Clear, value texture.ClearValue) error {
	r.clears++
	return nil
}

func (r *fakeRuntime) GenerateMipmaps(tex Texture, maxLevel uint32) error {
	return nil
}

func (r *fakeRuntime) NeedsConversion(format texture.PixelFormat) bool {
	return false
}

func (r *fakeRuntime) FormatConvert(format texture.PixelFormat, upload bool, src, dst []byte) {
	copy(dst, src)
}

func (r *fakeRuntime) Reinterpreters(dstFormat texture.PixelFormat) []Reinterpreter {
	return r.reinterpreters[dstFormat]
}

func (r *fakeRuntime) Finish() {
	r.finishes++
}

type markCall struct {
	addr   uint32
	size   uint32
	cached bool
}

// fakeMemory is a flat block of guest memory at a fixed base address.
type fakeMemory struct {
	base  uint32
	data  []byte
	marks []markCall
}

func newFakeMemory(base, size uint32) *fakeMemory {
	return &fakeMemory{base: base, data: make([]byte, size)}
}

func (m *fakeMemory) PhysicalRef(addr uint32) []byte {
	if addr < m.base || addr >= m.base+uint32(len(m.data)) {
		return nil
	}
	return m.data[addr-m.base:]
}

func (m *fakeMemory) MarkRegionCached(addr, size uint32, cached bool) {
	m.marks = append(m.marks, markCall{addr: addr, size: size, cached: cached})
}
