package compressor

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ResizePolicy decides the output dimensions of an image.
//
// Steps are applied in order: ScalePercent, then exact Width/Height (which
// override the scaled size), then the MaxWidth/MaxHeight bounds. A zero
// field disables its step.
type ResizePolicy struct {
	ScalePercent int `json:"scale_percent,omitempty"`
	Width        int `json:"width,omitempty"`
	Height       int `json:"height,omitempty"`
	MaxWidth     int `json:"max_width,omitempty"`
	MaxHeight    int `json:"max_height,omitempty"`
}

// NoResize keeps the source dimensions.
func NoResize() ResizePolicy { return ResizePolicy{} }

// Scale resizes both axes to percent of the source size.
func Scale(percent int) ResizePolicy { return ResizePolicy{ScalePercent: percent} }

// Exact resizes to width x height regardless of aspect ratio.
func Exact(width, height int) ResizePolicy { return ResizePolicy{Width: width, Height: height} }

// MaxBounds shrinks images exceeding either bound, preserving aspect ratio.
func MaxBounds(maxWidth, maxHeight int) ResizePolicy {
	return ResizePolicy{MaxWidth: maxWidth, MaxHeight: maxHeight}
}

// WithExact returns a copy of p that also resizes to width x height after
// scaling.
func (p ResizePolicy) WithExact(width, height int) ResizePolicy {
	p.Width, p.Height = width, height
	return p
}

// IsNone reports whether the policy never changes dimensions.
func (p ResizePolicy) IsNone() bool {
	return p == ResizePolicy{} || p == ResizePolicy{ScalePercent: 100}
}

// Validate rejects policies that can never produce an image.
func (p ResizePolicy) Validate() error {
	switch {
	case p.ScalePercent < 0:
		return fmt.Errorf("scale must be positive, got %d%%", p.ScalePercent)
	case p.Width < 0 || p.Height < 0:
		return fmt.Errorf("dimensions must be positive, got %dx%d", p.Width, p.Height)
	case (p.Width == 0) != (p.Height == 0):
		return fmt.Errorf("exact resize needs both width and height, got %dx%d", p.Width, p.Height)
	case p.MaxWidth < 0 || p.MaxHeight < 0:
		return fmt.Errorf("bounds must be positive, got %dx%d", p.MaxWidth, p.MaxHeight)
	}
	return nil
}

// Dimensions returns the output size for a width x height source.
func (p ResizePolicy) Dimensions(width, height int) (int, int, error) {
	if err := p.Validate(); err != nil {
		return 0, 0, err
	}
	w, h := width, height

	if p.ScalePercent > 0 && p.ScalePercent != 100 {
		w = w * p.ScalePercent / 100
		h = h * p.ScalePercent / 100
		if w == 0 || h == 0 {
			return 0, 0, fmt.Errorf("scaling %dx%d by %d%% gives an empty image", width, height, p.ScalePercent)
		}
	}

	if p.Width > 0 && p.Height > 0 {
		w, h = p.Width, p.Height
	}

	if p.MaxWidth > 0 && w > p.MaxWidth {
		h = max(1, h*p.MaxWidth/w)
		w = p.MaxWidth
	}
	if p.MaxHeight > 0 && h > p.MaxHeight {
		w = max(1, w*p.MaxHeight/h)
		h = p.MaxHeight
	}

	if w <= 0 || h <= 0 {
		return 0, 0, errors.New("target dimensions are empty")
	}
	return w, h, nil
}

// Apply resamples img with a Lanczos filter to the planned size. The source
// is resampled once, straight to the final dimensions.
func (p ResizePolicy) Apply(img image.Image) (image.Image, error) {
	if p.IsNone() {
		return img, nil
	}
	b := img.Bounds()
	w, h, err := p.Dimensions(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	if w == b.Dx() && h == b.Dy() {
		return img, nil
	}
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}
