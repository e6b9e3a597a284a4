package compressor

import (
	"path/filepath"
	"strings"
)

// Params describes how a single image is compressed.
type Params struct {
	InputPath string
	// OutputPath is used verbatim; when empty the output goes next to the
	// input as <stem>_compressed.jpg.
	OutputPath       string
	Quality          int
	Format           Format // nil means JPEG
	Resize           ResizePolicy
	DeleteOriginal   bool
	PreserveMetadata bool
}

// Result describes a successfully written image.
type Result struct {
	OutputPath     string
	OriginalSize   int64
	CompressedSize int64
}

// Compressor compresses one image per call.
type Compressor interface {
	// Process decodes, resizes, encodes and writes a single image. Errors are
	// always *Error.
	Process(params Params) (Result, error)
}

// MetadataCopier carries metadata from a source image onto an encoded file.
type MetadataCopier interface {
	Copy(src, dst string) error
}

// OutputName returns "<stem>_compressed.<ext>" for input encoded as format.
func OutputName(input string, format Format) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "output"
	}
	return stem + "_compressed." + format.Extension()
}

// DefaultOutputPath returns the output path used when none is given. It
// always carries the JPEG extension.
func DefaultOutputPath(input string) string {
	return filepath.Join(filepath.Dir(input), OutputName(input, JPEG))
}
