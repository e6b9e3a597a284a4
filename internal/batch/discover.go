package batch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"compressr-go/internal/compressor"

	"github.com/karrick/godirwalk"
)

// Supported raster extensions (lowercase, with leading dot). Several of
// these have no Go decoder; such files are still discovered and then fail
// individually with a DecodeError.
var imageExtensions = map[string]bool{
	".avif":     true,
	".bmp":      true,
	".dds":      true,
	".farbfeld": true,
	".gif":      true,
	".hdr":      true,
	".ico":      true,
	".jpeg":     true,
	".jpg":      true,
	".exr":      true,
	".png":      true,
	".pnm":      true,
	".qoi":      true,
	".tga":      true,
	".tiff":     true,
	".webp":     true,
}

const vectorExtension = ".svg"

// SupportedExtensions returns the discoverable raster extensions, sorted,
// without the leading dot.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(imageExtensions))
	for ext := range imageExtensions {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	sort.Strings(exts)
	return exts
}

// IsSupported reports whether path has a discoverable extension. SVG counts
// only when includeVector is set.
func IsSupported(path string, includeVector bool) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if imageExtensions[ext] {
		return true
	}
	return includeVector && ext == vectorExtension
}

// ListImages walks root and returns every raster image path beneath it,
// sorted. SVG documents are not listed.
func ListImages(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, compressor.InvalidRequest("cannot read directory %s: %v", root, err)
	}
	if !info.IsDir() {
		return nil, compressor.InvalidRequest("%s is not a directory", root)
	}
	return discover(root, false), nil
}

// discover collects supported regular files under root. Unreadable entries
// are skipped; discovery is best effort.
func discover(root string, includeVector bool) []string {
	var files []string
	_ = godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if !de.IsRegular() {
				return nil
			}
			if IsSupported(path, includeVector) {
				files = append(files, path)
			}
			return nil
		},
		ErrorCallback: func(string, error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
		Unsorted: true,
	})
	sort.Strings(files)
	return files
}

// collectFiles expands directories in inputs and keeps plain paths as they
// are, in input order. A path that does not exist is kept so that it fails
// on its own instead of vanishing from the batch.
func collectFiles(inputs []string) []string {
	var files []string
	for _, in := range inputs {
		if info, err := os.Stat(in); err == nil && info.IsDir() {
			files = append(files, discover(in, true)...)
			continue
		}
		files = append(files, in)
	}
	return files
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
