package softrun

import (
	"image"

	"golang.org/x/image/draw"
)

// scaleNearest resizes row-packed pixel data with nearest neighbor
// sampling. 32 bit formats ride the optimized x/image scaler; the byte
// shuffle is order-agnostic, so the actual channel layout does not matter.
func scaleNearest(data []byte, srcW, srcH, dstW, dstH, bpp uint32) []byte {
	if srcW == dstW && srcH == dstH {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}

	if bpp == 32 {
		src := &image.RGBA{
			Pix:    data,
			Stride: int(srcW) * 4,
			Rect:   image.Rect(0, 0, int(srcW), int(srcH)),
		}
		dst := image.NewRGBA(image.Rect(0, 0, int(dstW), int(dstH)))
		draw.NearestNeighbor.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
		return dst.Pix
	}

	if bpp == 4 {
		return scaleNearestNibble(data, srcW, srcH, dstW, dstH)
	}

	bytesPP := bpp / 8
	out := make([]byte, dstW*dstH*bytesPP)
	for y := uint32(0); y < dstH; y++ {
		sy := y * srcH / dstH
		for x := uint32(0); x < dstW; x++ {
			sx := x * srcW / dstW
			srcOff := (sy*srcW + sx) * bytesPP
			dstOff := (y*dstW + x) * bytesPP
			copy(out[dstOff:dstOff+bytesPP], data[srcOff:])
		}
	}
	return out
}

func scaleNearestNibble(data []byte, srcW, srcH, dstW, dstH uint32) []byte {
	out := make([]byte, dstW*dstH/2)
	for y := uint32(0); y < dstH; y++ {
		sy := y * srcH / dstH
		for x := uint32(0); x < dstW; x++ {
			sx := x * srcW / dstW
			srcIdx := sy*srcW + sx
			v := data[srcIdx/2]
			if srcIdx%2 == 0 {
				v &= 0xF
			} else {
				v >>= 4
			}
			dstIdx := y*dstW + x
			if dstIdx%2 == 0 {
				out[dstIdx/2] = out[dstIdx/2]&0xF0 | v
			} else {
				out[dstIdx/2] = out[dstIdx/2]&0x0F | v<<4
			}
		}
	}
	return out
}
