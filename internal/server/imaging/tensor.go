// Package imaging turns an uploaded image into the fixed-size, [0,1]
// scaled RGB tensor the classifier expects.
package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"

	"github.com/nfnt/resize"
)

// Channels is the number of colour channels in a Tensor (RGB).
const Channels = 3

// DefaultMaxPixels caps the declared size of a source image when the caller
// passes no limit.
const DefaultMaxPixels = 25_000_000

var (
	ErrBadSize       = errors.New("target size must be positive")
	ErrImageTooLarge = errors.New("image dimensions too large")
)

// Tensor is a height×width×channels image in row-major HWC order.
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// At returns the value of channel c at pixel (x, y).
func (t *Tensor) At(x, y, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// Shape is (height, width, channels).
func (t *Tensor) Shape() [3]int {
	return [3]int{t.Height, t.Width, t.Channels}
}

// Bytes encodes Data as little-endian float32s.
func (t *Tensor) Bytes() []byte {
	b := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// Prepare decodes a PNG or JPEG image from r, resizes it to width×height
// (nearest neighbour, aspect ratio not preserved) and scales each RGB
// channel to [0,1]. Alpha is dropped.
//
// The header is checked before any pixel buffer is allocated: images whose
// declared width×height exceeds maxPixels (DefaultMaxPixels when <= 0) fail
// with ErrImageTooLarge.
func Prepare(r io.Reader, width, height, maxPixels int) (*Tensor, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrBadSize
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.NearestNeighbor)
	}

	t := &Tensor{Height: height, Width: width, Channels: Channels, Data: make([]float32, width*height*Channels)}
	b := img.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Min.Y+height; y++ {
		for x := b.Min.X; x < b.Min.X+width; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			t.Data[i] = float32(c.R) / 255
			t.Data[i+1] = float32(c.G) / 255
			t.Data[i+2] = float32(c.B) / 255
			i += Channels
		}
	}

	return t, nil
}
