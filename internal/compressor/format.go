package compressor

import (
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/png"
	"io"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
)

// Format is an output image format. The set of formats is closed: the only
// values are JPEG, PNG, GIF and WebP, each carrying its own encoder.
type Format interface {
	// Name is the canonical lowercase name ("jpeg", "png", ...).
	Name() string
	// Extension is the file extension written for this format, without a dot.
	Extension() string
	// Lossless reports whether the quality setting is ignored.
	Lossless() bool

	encode(w io.Writer, img image.Image, quality int) error
}

type (
	jpegFormat struct{}
	pngFormat  struct{}
	gifFormat  struct{}
	webpFormat struct{}
)

var (
	JPEG Format = jpegFormat{}
	PNG  Format = pngFormat{}
	GIF  Format = gifFormat{}
	WebP Format = webpFormat{}
)

// AllFormats lists every output format in display order.
func AllFormats() []Format {
	return []Format{JPEG, PNG, GIF, WebP}
}

// ParseFormat resolves a format name or extension, case-insensitively.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "jpeg", "jpg":
		return JPEG, nil
	case "png":
		return PNG, nil
	case "gif":
		return GIF, nil
	case "webp":
		return WebP, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %q (valid: jpeg, png, gif, webp)", name)
	}
}

func (jpegFormat) Name() string      { return "jpeg" }
func (jpegFormat) Extension() string { return "jpg" }
func (jpegFormat) Lossless() bool    { return false }

// JPEG has no alpha channel, so pixels are flattened to opaque RGB first.
func (jpegFormat) encode(w io.Writer, img image.Image, quality int) error {
	return imaging.Encode(w, toOpaqueRGB(img), imaging.JPEG, imaging.JPEGQuality(quality))
}

func (pngFormat) Name() string      { return "png" }
func (pngFormat) Extension() string { return "png" }
func (pngFormat) Lossless() bool    { return true }

func (pngFormat) encode(w io.Writer, img image.Image, _ int) error {
	return imaging.Encode(w, imaging.Clone(img), imaging.PNG,
		imaging.PNGCompressionLevel(png.BestCompression))
}

func (gifFormat) Name() string      { return "gif" }
func (gifFormat) Extension() string { return "gif" }
func (gifFormat) Lossless() bool    { return true }

func (gifFormat) encode(w io.Writer, img image.Image, _ int) error {
	return imaging.Encode(w, imaging.Clone(img), imaging.GIF,
		imaging.GIFNumColors(256),
		imaging.GIFQuantizer(exactQuantizer{}),
		imaging.GIFDrawer(draw.FloydSteinberg))
}

func (webpFormat) Name() string      { return "webp" }
func (webpFormat) Extension() string { return "webp" }
func (webpFormat) Lossless() bool    { return true }

// WebP output is always lossless VP8L.
func (webpFormat) encode(w io.Writer, img image.Image, _ int) error {
	return nativewebp.Encode(w, imaging.Clone(img), nil)
}

// toOpaqueRGB copies img into 8-bit NRGBA and drops the alpha channel.
func toOpaqueRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// exactQuantizer keeps the image's own colors when it has at most 256 of
// them and falls back to the Plan 9 palette otherwise.
type exactQuantizer struct{}

func (exactQuantizer) Quantize(p color.Palette, m image.Image) color.Palette {
	limit := cap(p)
	if limit == 0 || limit > 256 {
		limit = 256
	}
	seen := make(map[color.NRGBA]struct{}, limit)
	b := m.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(m.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				c = color.NRGBA{}
			}
			if _, ok := seen[c]; ok {
				continue
			}
			if len(seen) == limit {
				return append(p[:0], palette.Plan9[:limit]...)
			}
			seen[c] = struct{}{}
			p = append(p, c)
		}
	}
	return p
}
