// Command gen-sample generates synthetic formulation-photo PNGs for
// testing the analysis pipeline: uniform frames (fully turbid samples),
// two-band frames (phase-separated samples), and vertical gradients.
package main

import (
	"flag"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"path/filepath"
)

var (
	outDir = flag.String("o", "samples", "output directory")
	width  = flag.Int("w", 120, "image width in pixels")
	height = flag.Int("h", 200, "image height in pixels")
)

func main() {
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	samples := map[string]*image.RGBA{
		"uniform_mid.png":     uniform(*width, *height, 128),
		"uniform_dark.png":    uniform(*width, *height, 40),
		"phase_separated.png": twoBand(*width, *height, *height/2, 60, 200),
		"cream_layer.png":     twoBand(*width, *height, *height/5, 220, 90),
		"gradient.png":        gradient(*width, *height),
	}

	for name, img := range samples {
		path := filepath.Join(*outDir, name)
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("failed to create %s: %v", path, err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			log.Fatalf("failed to encode %s: %v", path, err)
		}
		f.Close()
		log.Printf("✓ Created: %s", path)
	}
}

func uniform(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillRows(img, 0, h, v)
	return img
}

func twoBand(w, h, topRows int, top, bottom uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillRows(img, 0, topRows, top)
	fillRows(img, topRows, h, bottom)
	return img
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		v := uint8(0)
		if h > 1 {
			v = uint8(y * 255 / (h - 1))
		}
		fillRows(img, y, y+1, v)
	}
	return img
}

func fillRows(img *image.RGBA, from, to int, v uint8) {
	bounds := img.Bounds()
	gray := color.RGBA{v, v, v, 255}
	for y := from; y < to; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			img.SetRGBA(x, y, gray)
		}
	}
}
