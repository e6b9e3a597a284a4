package compressor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// sniffLen is how many header bytes filetype needs to identify a file.
const sniffLen = 262

// IsVector reports whether path names an SVG document.
func IsVector(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".svg")
}

// decode loads path as a raster image, rendering SVG documents first.
func decode(path string) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = newError(KindDecode, path, "decode", fmt.Errorf("decoder panic: %v", r))
		}
	}()

	if IsVector(path) {
		img, err = decodeSVG(path)
	} else {
		img, err = imaging.Open(path, imaging.AutoOrientation(true))
		if errors.Is(err, image.ErrFormat) {
			err = unsupportedFormat(path, err)
		}
	}
	if err != nil {
		return nil, AsError(path, err, KindDecode)
	}
	return img, nil
}

// decodeSVG renders an SVG document at its intrinsic size: the root width and
// height when declared in absolute units, otherwise the viewBox. Fonts, images
// and other resources referenced by the document are not resolved relative to
// its directory; oksvg draws only inline shapes.
func decodeSVG(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(KindDecode, path, "open svg", err)
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, newError(KindDecode, path, "parse svg", err)
	}

	root := readSVGRoot(data)
	if root.viewBox[2] > 0 && root.viewBox[3] > 0 {
		// oksvg stops reading the root attributes at the first length it
		// cannot parse, which can leave its viewBox unset.
		icon.ViewBox.X, icon.ViewBox.Y = root.viewBox[0], root.viewBox[1]
		icon.ViewBox.W, icon.ViewBox.H = root.viewBox[2], root.viewBox[3]
	}

	fw, fh := root.width, root.height
	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	switch {
	case fw > 0 && fh > 0:
	case fw > 0 && vw > 0:
		fh = fw * vh / vw
	case fh > 0 && vh > 0:
		fw = fh * vw / vh
	default:
		fw, fh = vw, vh
	}

	w := int(math.Ceil(fw))
	h := int(math.Ceil(fh))
	if w <= 0 || h <= 0 {
		return nil, newError(KindDecode, path, "parse svg",
			fmt.Errorf("document has no intrinsic size (%gx%g)", fw, fh))
	}

	icon.SetTarget(0, 0, float64(w), float64(h))
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1)

	return canvas, nil
}

type svgRoot struct {
	width, height float64
	viewBox       [4]float64
}

// readSVGRoot reads the sizing attributes of the root <svg> element. Missing
// or relative lengths come back as 0.
func readSVGRoot(data []byte) svgRoot {
	var root svgRoot
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return root
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "svg" {
			return root
		}
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "width":
				root.width = svgLength(attr.Value)
			case "height":
				root.height = svgLength(attr.Value)
			case "viewBox":
				fields := strings.FieldsFunc(attr.Value, func(r rune) bool {
					return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
				})
				if len(fields) != 4 {
					continue
				}
				var vb [4]float64
				valid := true
				for i, f := range fields {
					n, err := strconv.ParseFloat(f, 64)
					if err != nil {
						valid = false
						break
					}
					vb[i] = n
				}
				if valid {
					root.viewBox = vb
				}
			}
		}
		return root
	}
}

// svgUnits maps absolute CSS units to pixels at 96 dpi.
var svgUnits = map[string]float64{
	"":   1,
	"px": 1,
	"pt": 96.0 / 72,
	"pc": 16,
	"mm": 96 / 25.4,
	"cm": 96 / 2.54,
	"in": 96,
}

func svgLength(v string) float64 {
	v = strings.TrimSpace(v)
	i := strings.IndexFunc(v, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != '-' && r != '+' && r != 'e' && r != 'E'
	})
	num, unit := v, ""
	if i >= 0 {
		num, unit = v[:i], strings.ToLower(strings.TrimSpace(v[i:]))
	}
	scale, ok := svgUnits[unit]
	if !ok {
		return 0
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return n * scale
}

// unsupportedFormat names the detected content type when no registered
// decoder accepted the file.
func unsupportedFormat(path string, cause error) error {
	f, err := os.Open(path)
	if err != nil {
		return newError(KindDecode, path, "decode", cause)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, _ := io.ReadFull(f, head)
	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return newError(KindDecode, path, "decode", cause)
	}
	return newError(KindDecode, path, "decode",
		fmt.Errorf("unsupported input format %s (%s): %w", kind.Extension, kind.MIME.Value, cause))
}
