package compressor

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"compressr-go/internal/logger"

	"github.com/sirupsen/logrus"
)

// DefaultCompressor is the default implementation of the Compressor interface.
type DefaultCompressor struct {
	log      *logrus.Logger
	metadata MetadataCopier
	jpegtran string
}

// Option configures a DefaultCompressor.
type Option func(*DefaultCompressor)

// WithMetadataCopier enables EXIF carry-over for JPEG outputs requested with
// PreserveMetadata.
func WithMetadataCopier(m MetadataCopier) Option {
	return func(c *DefaultCompressor) {
		c.metadata = m
	}
}

// WithJPEGOptimizer sets the jpegtran binary used to rewrite JPEG outputs
// with optimized Huffman tables and progressive scans. An empty path
// disables the rewrite.
func WithJPEGOptimizer(path string) Option {
	return func(c *DefaultCompressor) {
		c.jpegtran = path
	}
}

// NewDefaultCompressor creates a new DefaultCompressor instance. jpegtran is
// picked up from PATH when present.
func NewDefaultCompressor(log *logrus.Logger, opts ...Option) *DefaultCompressor {
	c := &DefaultCompressor{log: log}
	if path, err := exec.LookPath("jpegtran"); err == nil {
		c.jpegtran = path
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process compresses a single image: decode, resize, encode, write and, if
// requested, delete the original once the output is in place.
func (c *DefaultCompressor) Process(p Params) (Result, error) {
	var res Result

	if p.InputPath == "" {
		return res, InvalidRequest("input path is empty")
	}
	if p.Quality < 0 || p.Quality > 100 {
		e := InvalidRequest("quality must be between 0 and 100, got %d", p.Quality)
		e.Path = p.InputPath
		return res, e
	}
	format := p.Format
	if format == nil {
		format = JPEG
	}
	outPath := p.OutputPath
	if outPath == "" {
		outPath = DefaultOutputPath(p.InputPath)
	}
	log := logger.ForFile(c.log, p.InputPath, "compress")

	info, err := os.Stat(p.InputPath)
	if err != nil {
		return res, newError(KindDecode, p.InputPath, "stat input", err)
	}
	if info.IsDir() {
		return res, newError(KindDecode, p.InputPath, "stat input", fmt.Errorf("%s is a directory", p.InputPath))
	}
	res.OriginalSize = info.Size()

	img, err := decode(p.InputPath)
	if err != nil {
		return res, err
	}

	src := img.Bounds()
	img, err = p.Resize.Apply(img)
	if err != nil {
		return res, newError(KindResize, p.InputPath, "resize", err)
	}
	if dst := img.Bounds(); dst != src {
		log.Debugf("Resized %dx%d -> %dx%d", src.Dx(), src.Dy(), dst.Dx(), dst.Dy())
	}

	data, err := encodeImage(img, format, p.Quality)
	if err != nil {
		return res, AsError(p.InputPath, err, KindEncode)
	}

	size, err := c.write(log, p.InputPath, outPath, format, data, p.PreserveMetadata)
	if err != nil {
		return res, AsError(p.InputPath, err, KindIO)
	}
	res.OutputPath = outPath
	res.CompressedSize = size

	if p.DeleteOriginal {
		if samePath(p.InputPath, outPath) {
			log.Warn("Output replaced the input in place, nothing to delete")
		} else if err := os.Remove(p.InputPath); err != nil {
			return res, newError(KindIO, p.InputPath, "delete original", err)
		} else {
			log.Debug("Deleted original")
		}
	}

	return res, nil
}

// encodeImage runs the format's encoder, converting a panic inside the codec
// into an EncoderPanic error.
func encodeImage(img image.Image, format Format, quality int) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = newError(KindEncoderPanic, "", "encode "+format.Name(), fmt.Errorf("encoder aborted: %v", r))
		}
	}()

	var buf bytes.Buffer
	if err := format.encode(&buf, img, quality); err != nil {
		return nil, newError(KindEncode, "", "encode "+format.Name(), err)
	}
	return buf.Bytes(), nil
}

// write stores data at dst through a temporary file in the same directory,
// so dst is either fully written or untouched.
func (c *DefaultCompressor) write(log *logrus.Entry, src, dst string, format Format, data []byte, preserve bool) (int64, error) {
	base := filepath.Base(dst)
	pattern := "." + strings.TrimSuffix(base, filepath.Ext(base)) + "-*." + format.Extension()
	tmp, err := os.CreateTemp(filepath.Dir(dst), pattern)
	if err != nil {
		return 0, newError(KindIO, src, "create output", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, newError(KindIO, src, "write output", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return 0, newError(KindIO, src, "write output", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, newError(KindIO, src, "sync output", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, newError(KindIO, src, "close output", err)
	}

	if format == JPEG {
		if err := c.optimizeJPEG(tmpPath); err != nil {
			log.Warnf("JPEG optimization skipped: %v", err)
		}
		if preserve && c.metadata != nil {
			if err := c.metadata.Copy(src, tmpPath); err != nil {
				log.Warnf("Metadata not copied: %v", err)
			}
		}
		if err := syncFile(tmpPath); err != nil {
			return 0, newError(KindIO, src, "sync output", err)
		}
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return 0, newError(KindIO, src, "stat output", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, newError(KindIO, src, "rename output", err)
	}
	committed = true
	return info.Size(), nil
}

// optimizeJPEG rewrites path in place with optimized Huffman tables and
// progressive scans.
func (c *DefaultCompressor) optimizeJPEG(path string) error {
	if c.jpegtran == "" {
		return nil
	}
	opt := path + ".opt"
	cmd := exec.Command(c.jpegtran, "-optimize", "-progressive", "-copy", "all", "-outfile", opt, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(opt)
		return fmt.Errorf("jpegtran failed: %v: %s", err, bytes.TrimSpace(out))
	}
	if err := os.Rename(opt, path); err != nil {
		_ = os.Remove(opt)
		return err
	}
	return nil
}

// syncFile flushes a file written by an external tool.
func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// samePath reports whether a and b name the same location.
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
