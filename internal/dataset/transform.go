package dataset

import (
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/spf13/afero"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// Normalisation applied per channel after scaling to [0, 1].
const (
	normMean = 0.5
	normStd  = 0.5
)

// Channels is the number of colour channels in an input tensor.
const Channels = 3

// LoadImage decodes the image at path.
func LoadImage(fsys afero.Fs, path string) (image.Image, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Resize scales img to size×size with bilinear interpolation.
func Resize(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// ToTensor resizes img and flattens it channel-first (CHW), normalised to
// (x-0.5)/0.5 so values fall in [-1, 1].
func ToTensor(img image.Image, size int) []float32 {
	rgba := Resize(img, size)
	plane := size * size
	out := make([]float32, Channels*plane)

	for y := range size {
		for x := range size {
			o := rgba.PixOffset(x, y)
			i := y*size + x
			for c := range Channels {
				v := float32(rgba.Pix[o+c]) / 255
				out[c*plane+i] = (v - normMean) / normStd
			}
		}
	}
	return out
}

// InputSize is the flattened length of a size×size image tensor.
func InputSize(size int) int {
	return Channels * size * size
}
