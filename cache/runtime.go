package cache

import "github.com/hostgpu/surfcache/texture"

// Texture is an opaque handle to host texture storage owned by a
// TextureRuntime.
type Texture interface {
	// Release returns the storage to the runtime. The handle must not be
	// used afterwards.
	Release()
}

// StagingBuffer is transfer memory obtained from the runtime for moving
// pixel data between guest memory and textures.
type StagingBuffer struct {
	Data []byte
	Size uint32
}

// Reinterpreter converts texture content between two pixel formats of equal
// density, so data written in one format can be read back in another
// without a round trip through guest memory.
type Reinterpreter interface {
	SourceFormat() texture.PixelFormat

	// Reinterpret copies srcRect of src into dstRect of dst, converting
	// from the source format to the reinterpreter's destination format.
	Reinterpret(src Texture, srcRect texture.Rect, dst Texture, dstRect texture.Rect) error
}

// TextureRuntime is the host graphics backend the cache drives. All methods
// are called with the cache lock held; implementations may defer actual GPU
// work as long as Finish drains it.
type TextureRuntime interface {
	// Allocate creates texture storage for a surface of the given host
	// dimensions.
	Allocate(width, height uint32, format texture.PixelFormat, texType texture.TextureType) (Texture, error)

	// FindStaging returns a staging buffer of at least size bytes. upload
	// distinguishes CPU-to-GPU from GPU-to-CPU traffic for runtimes that
	// pool the two separately.
	FindStaging(size uint32, upload bool) StagingBuffer

	Upload(tex Texture, transfer texture.BufferCopy, staging StagingBuffer) error
	Download(tex Texture, transfer texture.BufferCopy, staging StagingBuffer) error

	CopyTextures(src, dst Texture, copyArea texture.Copy) error
	BlitTextures(src, dst Texture, blit texture.Blit) error
	ClearTexture(tex Texture, clear texture.Clear, value texture.ClearValue) error

	// GenerateMipmaps populates levels 1..maxLevel of tex from its base
	// image.
	GenerateMipmaps(tex Texture, maxLevel uint32) error

	// NeedsConversion reports whether the guest format cannot be uploaded
	// raw and must pass through FormatConvert.
	NeedsConversion(format texture.PixelFormat) bool

	// FormatConvert translates between the guest encoding of format and
	// the runtime's host encoding. upload is true for guest-to-host.
	FormatConvert(format texture.PixelFormat, upload bool, src, dst []byte)

	// Reinterpreters returns the converters that can produce dstFormat
	// from some other format.
	Reinterpreters(dstFormat texture.PixelFormat) []Reinterpreter

	// Finish blocks until every queued GPU operation, downloads included,
	// has completed.
	Finish()
}
