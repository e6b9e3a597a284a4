package batch

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"compressr-go/internal/compressor"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestListImages_FiltersAndSorts(t *testing.T) {
	root := t.TempDir()
	want := []string{
		touch(t, filepath.Join(root, "a.PNG")),
		touch(t, filepath.Join(root, "b.jpeg")),
		touch(t, filepath.Join(root, "nested", "d.Tiff")),
		touch(t, filepath.Join(root, "nested", "deep", "c.webp")),
	}
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "logo.svg"))
	touch(t, filepath.Join(root, "noext"))
	if err := os.Mkdir(filepath.Join(root, "dir.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListImages(root)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListImages =\n%v\nwant\n%v", got, want)
	}
}

func TestListImages_EmptyDirectory(t *testing.T) {
	got, err := ListImages(t.TempDir())
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no images, got %v", got)
	}
}

func TestListImages_BadRoot(t *testing.T) {
	root := t.TempDir()
	file := touch(t, filepath.Join(root, "a.png"))

	for _, path := range []string{filepath.Join(root, "missing"), file} {
		_, err := ListImages(path)
		if !errors.Is(err, compressor.ErrInvalidRequest) {
			t.Errorf("ListImages(%s) error = %v, want InvalidRequest", path, err)
		}
	}
}

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "photos")
	png := touch(t, filepath.Join(dir, "a.png"))
	svg := touch(t, filepath.Join(dir, "b.svg"))
	touch(t, filepath.Join(dir, "c.txt"))
	single := touch(t, filepath.Join(root, "single.bin"))
	missing := filepath.Join(root, "gone.jpg")

	got := collectFiles([]string{single, dir, missing})
	want := []string{single, png, svg, missing}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("collectFiles =\n%v\nwant\n%v", got, want)
	}
}

func TestIsSupported(t *testing.T) {
	tests := []struct {
		path          string
		includeVector bool
		want          bool
	}{
		{"a.jpg", false, true},
		{"a.JPG", false, true},
		{"a.qoi", false, true},
		{"a.svg", false, false},
		{"a.SVG", true, true},
		{"a.txt", true, false},
		{"jpg", true, false},
	}
	for _, tt := range tests {
		if got := IsSupported(tt.path, tt.includeVector); got != tt.want {
			t.Errorf("IsSupported(%q, %v) = %v, want %v", tt.path, tt.includeVector, got, tt.want)
		}
	}
}

func TestSupportedExtensions(t *testing.T) {
	exts := SupportedExtensions()
	if len(exts) != 16 {
		t.Fatalf("got %d extensions: %v", len(exts), exts)
	}
	if exts[0] != "avif" || exts[len(exts)-1] != "webp" {
		t.Errorf("extensions not sorted: %v", exts)
	}
}

func TestPoolSize(t *testing.T) {
	cpus := AvailableParallelism()
	tests := []struct {
		requested, files, want int
	}{
		{4, 0, 0},
		{1000, 3, 3},
		{2, 6, 2},
		{1, 1, 1},
		{0, 1, 1},
		{-5, 1000, min(cpus, 1000)},
	}
	for _, tt := range tests {
		if got := poolSize(tt.requested, tt.files); got != tt.want {
			t.Errorf("poolSize(%d, %d) = %d, want %d", tt.requested, tt.files, got, tt.want)
		}
	}
	if cpus < 1 {
		t.Errorf("AvailableParallelism = %d", cpus)
	}
}
