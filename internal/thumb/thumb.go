// Package thumb renders JPEG previews of stored screenshots.
package thumb

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	// decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultSize = 256
	// DefaultMaxPixels bounds width*height of a source image; a decoded RGBA
	// image of this size already takes about 200 MB.
	DefaultMaxPixels = 50_000_000
	quality          = 82
)

// ContentType of every rendered thumbnail.
const ContentType = "image/jpeg"

var (
	ErrEmptyImage    = errors.New("image has no pixels")
	ErrImageTooLarge = errors.New("image too large")
)

// Fit scales w x h down so the longer side is at most max, keeping the
// aspect ratio. Images already small enough are returned unchanged.
func Fit(w, h, max int) (int, int) {
	if max <= 0 {
		max = DefaultSize
	}
	nw, nh := w, h
	if w > h {
		if w > max {
			nw = max
			nh = int(float64(h) * (float64(max) / float64(w)))
		}
	} else if h > max {
		nh = max
		nw = int(float64(w) * (float64(max) / float64(h)))
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

// Render decodes an image from r and returns a JPEG whose longer side is at
// most max pixels. Transparent areas are flattened onto white.
//
// The header is read first: images with more than maxPixels pixels fail with
// ErrImageTooLarge before any pixel buffer is allocated.
func Render(r io.ReadSeeker, max, maxPixels int) ([]byte, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("decoding image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrEmptyImage
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%s of %dx%d: %w", format, cfg.Width, cfg.Height, ErrImageTooLarge)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding image: %w", err)
	}

	src, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyImage
	}

	nw, nh := Fit(b.Dx(), b.Dy(), max)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding %s thumbnail: %w", format, err)
	}
	return out.Bytes(), nil
}
