// Package imaging loads formulation photographs and derives the pixel
// views the statistics pipeline consumes: an RGB frame and a single-channel
// luminance matrix of equal dimensions.
//
// Decoders are registered for PNG, JPEG, GIF, BMP and TIFF. Both views are
// built once per image and treated as read-only afterwards.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io/fs"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/formulab-data/turbidity.report/internal/fsutil"
)

// NotFoundError reports an input path that did not resolve to a readable
// file.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("image file not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// DecodeError reports a file that exists but could not be decoded as an
// image.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode image %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Matrix is a row-major grid of 8-bit luminance values, one per pixel.
type Matrix struct {
	W, H int
	Pix  []uint8 // len == W*H
}

// NewMatrix allocates a zeroed w×h matrix.
func NewMatrix(w, h int) *Matrix {
	return &Matrix{W: w, H: h, Pix: make([]uint8, w*h)}
}

// At returns the luminance at column x, row y.
func (m *Matrix) At(x, y int) uint8 {
	return m.Pix[y*m.W+x]
}

// Set stores the luminance at column x, row y.
func (m *Matrix) Set(x, y int, v uint8) {
	m.Pix[y*m.W+x] = v
}

// Row returns the y-th row as a shared slice view.
func (m *Matrix) Row(y int) []uint8 {
	return m.Pix[y*m.W : (y+1)*m.W]
}

// Image is a decoded photograph with its derived luminance view.
type Image struct {
	Path string
	RGB  *image.RGBA
	Lum  *Matrix
}

// Load reads and decodes the image at path through the given filesystem.
// Missing paths yield a NotFoundError; undecodable bytes yield a
// DecodeError. Neither is retried.
func Load(fsys fsutil.FileSystem, path string) (*Image, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return FromImage(path, src), nil
}

// FromImage normalizes an already-decoded image into the two pipeline
// views. Sources with alpha are composited onto black so every pixel is
// opaque.
func FromImage(path string, src image.Image) *Image {
	b := src.Bounds()
	rgb := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgb, rgb.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(rgb, rgb.Bounds(), src, b.Min, draw.Over)

	return &Image{
		Path: path,
		RGB:  rgb,
		Lum:  luminanceOf(rgb),
	}
}

// luminanceOf converts an opaque RGBA frame to its luminance matrix using
// the standard 0.299R + 0.587G + 0.114B weighting with integer rounding.
func luminanceOf(rgb *image.RGBA) *Matrix {
	w := rgb.Bounds().Dx()
	h := rgb.Bounds().Dy()
	m := NewMatrix(w, h)
	for y := 0; y < h; y++ {
		src := rgb.Pix[y*rgb.Stride : y*rgb.Stride+w*4]
		dst := m.Row(y)
		for x := 0; x < w; x++ {
			r := int(src[x*4])
			g := int(src[x*4+1])
			b := int(src[x*4+2])
			dst[x] = uint8((299*r + 587*g + 114*b + 500) / 1000)
		}
	}
	return m
}
