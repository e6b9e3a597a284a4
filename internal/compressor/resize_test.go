package compressor

import (
	"image"
	"testing"
)

func TestResizePolicy_Dimensions(t *testing.T) {
	tests := []struct {
		name         string
		policy       ResizePolicy
		srcW, srcH   int
		wantW, wantH int
	}{
		{"none", NoResize(), 640, 480, 640, 480},
		{"scale 100 is identity", Scale(100), 641, 479, 641, 479},
		{"scale 50 floors", Scale(50), 41, 31, 20, 15},
		{"scale 33 floors", Scale(33), 100, 10, 33, 3},
		{"scale above 100", Scale(150), 40, 30, 60, 45},
		{"exact", Exact(10, 20), 640, 480, 10, 20},
		{"exact overrides scale", Scale(50).WithExact(300, 200), 640, 480, 300, 200},
		{"max width shrinks", MaxBounds(320, 0), 640, 480, 320, 240},
		{"max height shrinks", MaxBounds(0, 240), 640, 480, 320, 240},
		{"within bounds untouched", MaxBounds(1000, 1000), 640, 480, 640, 480},
		{"both bounds fit inside", MaxBounds(320, 100), 640, 480, 133, 100},
		{"only exceeding axis drives", MaxBounds(1000, 240), 640, 480, 320, 240},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := tt.policy.Dimensions(tt.srcW, tt.srcH)
			if err != nil {
				t.Fatalf("Dimensions: %v", err)
			}
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("got %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestResizePolicy_Degenerate(t *testing.T) {
	tests := []struct {
		name   string
		policy ResizePolicy
	}{
		{"scale to nothing", Scale(1)},
		{"negative scale", Scale(-5)},
		{"zero width", Exact(0, 10)},
		{"zero height", Exact(10, 0)},
		{"negative dimensions", Exact(-1, -1)},
		{"negative bound", MaxBounds(-1, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := tt.policy.Dimensions(50, 50); err == nil {
				t.Errorf("expected error for %+v", tt.policy)
			}
		})
	}
}

func TestResizePolicy_ApplyNoopKeepsImage(t *testing.T) {
	img := solidImage(12, 7, red)
	for _, p := range []ResizePolicy{NoResize(), Scale(100), Exact(12, 7), MaxBounds(12, 7)} {
		out, err := p.Apply(img)
		if err != nil {
			t.Fatalf("Apply(%+v): %v", p, err)
		}
		if out != image.Image(img) {
			t.Errorf("Apply(%+v) resampled an image that already had the target size", p)
		}
	}
}

func TestResizePolicy_Apply(t *testing.T) {
	out, err := Scale(50).Apply(solidImage(40, 30, red))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 20 || b.Dy() != 15 {
		t.Errorf("got %dx%d, want 20x15", b.Dx(), b.Dy())
	}
	assertColorNear(t, out, red, 2)
}

func TestResizePolicy_IsNone(t *testing.T) {
	if !NoResize().IsNone() || !Scale(100).IsNone() {
		t.Error("identity policies should report IsNone")
	}
	if Scale(50).IsNone() || Exact(1, 1).IsNone() {
		t.Error("resizing policies should not report IsNone")
	}

	// An identity policy passes the image through without planning a size,
	// so even a degenerate image is left alone.
	empty := image.NewNRGBA(image.Rect(0, 0, 0, 0))
	if out, err := NoResize().Apply(empty); err != nil || out != image.Image(empty) {
		t.Errorf("NoResize().Apply(empty) = %v, %v", out.Bounds(), err)
	}
	if _, err := MaxBounds(10, 10).Apply(empty); err == nil {
		t.Error("bounded resize of an empty image should fail")
	}
}
