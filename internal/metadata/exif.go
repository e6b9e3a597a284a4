// Package metadata carries descriptive EXIF tags from a source photo onto its
// compressed JPEG copy.
package metadata

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"compressr-go/internal/logger"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// ErrNoMetadata is returned by Read when the file has no EXIF block.
var ErrNoMetadata = errors.New("no EXIF metadata")

// carriedTags are copied verbatim. Orientation is left out on purpose since
// pixels are already auto-oriented on decode.
var carriedTags = []exif.FieldName{
	exif.Make,
	exif.Model,
	exif.LensModel,
	exif.DateTime,
	exif.DateTimeOriginal,
	exif.DateTimeDigitized,
	exif.Artist,
	exif.Copyright,
	exif.ImageDescription,
}

// Read returns the carried tags present in path, keyed by tag name.
func Read(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMetadata, err)
	}

	tags := make(map[string]string, len(carriedTags))
	for _, name := range carriedTags {
		field, err := x.Get(name)
		if err != nil {
			continue
		}
		val, err := field.StringVal()
		if err != nil {
			continue
		}
		if val = strings.TrimSpace(val); val != "" {
			tags[string(name)] = val
		}
	}
	return tags, nil
}

// ExiftoolCopier writes tags read with goexif through one long-lived exiftool
// process, started on the first copy and shared by every worker. Close stops it.
type ExiftoolCopier struct {
	log *logrus.Logger

	mu       sync.Mutex
	et       *exiftool.Exiftool
	startErr error
	closed   bool
}

// NewExiftoolCopier returns a new ExiftoolCopier.
func NewExiftoolCopier(log *logrus.Logger) *ExiftoolCopier {
	return &ExiftoolCopier{log: log}
}

// tool returns the shared exiftool process. A failed start is remembered so
// a missing binary is reported once per file without respawning.
func (c *ExiftoolCopier) tool() (*exiftool.Exiftool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errCopierClosed
	}
	if c.et == nil && c.startErr == nil {
		c.et, c.startErr = exiftool.NewExiftool()
		if c.startErr == nil {
			c.log.Debug("Started exiftool")
		}
	}
	if c.startErr != nil {
		return nil, fmt.Errorf("exiftool unavailable: %w", c.startErr)
	}
	return c.et, nil
}

var errCopierClosed = errors.New("metadata copier is closed")

// Copy writes the carried tags of src into dst. A source without EXIF is not
// an error.
func (c *ExiftoolCopier) Copy(src, dst string) error {
	log := logger.ForFile(c.log, src, "copy metadata")
	tags, err := Read(src)
	if errors.Is(err, ErrNoMetadata) {
		log.Debug("No EXIF to carry")
		return nil
	}
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}

	et, err := c.tool()
	if err != nil {
		return err
	}

	fm := exiftool.EmptyFileMetadata()
	fm.File = dst
	for name, val := range tags {
		fm.SetString(name, val)
	}
	batch := []exiftool.FileMetadata{fm}
	et.WriteMetadata(batch)
	if batch[0].Err != nil {
		return fmt.Errorf("exiftool write failed: %w", batch[0].Err)
	}

	log.WithField("tags", len(tags)).Debug("Copied EXIF tags")
	return nil
}

// Close stops the exiftool process if one was started. Copies after Close fail.
func (c *ExiftoolCopier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.et == nil {
		return nil
	}
	err := c.et.Close()
	c.et = nil
	return err
}
