package postproc

// pixelops.go implements the manual RGBA reindexing StdConverter and
// StdFilterGraph run on: resize, the three transpose/flip primitives
// RotationDescriptor's strings name, all hand-rolled against
// media.RawPixelHandle since no third-party image-processing library is
// wired into this module (see DESIGN.md).

// readPixel returns the 4-byte RGBA pixel at (x, y) in a buffer with the
// given stride.
func readPixel(pix []byte, stride, x, y int) [4]byte {
	i := y*stride + x*4
	var p [4]byte
	copy(p[:], pix[i:i+4])
	return p
}

func writePixel(pix []byte, stride, x, y int, p [4]byte) {
	i := y*stride + x*4
	copy(pix[i:i+4], p[:])
}

// resizeNearest maps each destination pixel back to the nearest source
// pixel. dst is assumed tightly packed (stride == dstW*4).
func resizeNearest(src []byte, srcStride, srcW, srcH int, dstW, dstH int) []byte {
	dst := make([]byte, dstW*dstH*4)
	for dy := 0; dy < dstH; dy++ {
		sy := dy * srcH / dstH
		if sy >= srcH {
			sy = srcH - 1
		}
		for dx := 0; dx < dstW; dx++ {
			sx := dx * srcW / dstW
			if sx >= srcW {
				sx = srcW - 1
			}
			writePixel(dst, dstW*4, dx, dy, readPixel(src, srcStride, sx, sy))
		}
	}
	return dst
}

// resizeBilinear is resizeNearest's counterpart for
// codec.InterpolationBilinear: each destination pixel is a weighted blend
// of its four nearest source neighbors.
func resizeBilinear(src []byte, srcStride, srcW, srcH int, dstW, dstH int) []byte {
	dst := make([]byte, dstW*dstH*4)
	for dy := 0; dy < dstH; dy++ {
		fy := float64(dy) * float64(srcH) / float64(dstH)
		y0 := int(fy)
		y1 := y0 + 1
		if y1 >= srcH {
			y1 = srcH - 1
		}
		wy := fy - float64(y0)
		for dx := 0; dx < dstW; dx++ {
			fx := float64(dx) * float64(srcW) / float64(dstW)
			x0 := int(fx)
			x1 := x0 + 1
			if x1 >= srcW {
				x1 = srcW - 1
			}
			wx := fx - float64(x0)

			p00 := readPixel(src, srcStride, x0, y0)
			p10 := readPixel(src, srcStride, x1, y0)
			p01 := readPixel(src, srcStride, x0, y1)
			p11 := readPixel(src, srcStride, x1, y1)

			var out [4]byte
			for c := 0; c < 4; c++ {
				top := float64(p00[c])*(1-wx) + float64(p10[c])*wx
				bot := float64(p01[c])*(1-wx) + float64(p11[c])*wx
				out[c] = byte(top*(1-wy) + bot*wy)
			}
			writePixel(dst, dstW*4, dx, dy, out)
		}
	}
	return dst
}

// transposeCCW rotates the image 90 degrees counter-clockwise: output
// width/height swap, and source pixel (x, y) lands at output pixel
// (y, srcW-1-x) — the "transpose=cclock" ffmpeg filter's mapping.
func transposeCCW(src []byte, stride, w, h int) (out []byte, outW, outH int) {
	outW, outH = h, w
	out = make([]byte, outW*outH*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			writePixel(out, outW*4, y, w-1-x, readPixel(src, stride, x, y))
		}
	}
	return out, outW, outH
}

// transposeCW rotates the image 90 degrees clockwise ("transpose=clock"):
// source pixel (x, y) lands at output pixel (h-1-y, x).
func transposeCW(src []byte, stride, w, h int) (out []byte, outW, outH int) {
	outW, outH = h, w
	out = make([]byte, outW*outH*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			writePixel(out, outW*4, h-1-y, x, readPixel(src, stride, x, y))
		}
	}
	return out, outW, outH
}

// flipH mirrors the image left-right in place geometry (new tightly
// packed buffer, same dimensions).
func flipH(src []byte, stride, w, h int) []byte {
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			writePixel(out, w*4, w-1-x, y, readPixel(src, stride, x, y))
		}
	}
	return out
}

// flipV mirrors the image top-bottom.
func flipV(src []byte, stride, w, h int) []byte {
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			writePixel(out, w*4, x, h-1-y, readPixel(src, stride, x, y))
		}
	}
	return out
}
