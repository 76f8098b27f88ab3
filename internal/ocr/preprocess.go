package ocr

import (
	"image"

	"github.com/disintegration/imaging"
)

const (
	background uint8 = 0
	foreground uint8 = 255
)

// Binarize converts a color frame into a two-level grayscale image of the same
// size. The threshold is picked with Otsu's method from the frame's own histogram.
func Binarize(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if b.Empty() {
		return out
	}

	gray := imaging.Grayscale(img)

	var hist [256]int
	for y := 0; y < b.Dy(); y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			hist[row[x]]++
		}
	}

	t := OtsuThreshold(hist)
	for y := 0; y < b.Dy(); y++ {
		src := gray.Pix[y*gray.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			if src[x*4] > t {
				dst[x] = foreground
			} else {
				dst[x] = background
			}
		}
	}
	return out
}

// OtsuThreshold returns the intensity that maximizes between-class variance.
// Pixels strictly above it belong to the foreground. A histogram with a single
// populated bin yields 0.
func OtsuThreshold(hist [256]int) uint8 {
	var total, sumAll float64
	for i, n := range hist {
		total += float64(n)
		sumAll += float64(i) * float64(n)
	}
	if total == 0 {
		return 0
	}

	var (
		sumB, wB float64
		best     float64
		thr      int
	)
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			thr = t
		}
	}
	return uint8(thr)
}
