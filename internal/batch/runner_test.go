package batch

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"compressr-go/internal/compressor"
	"compressr-go/internal/logger"
	"compressr-go/internal/statistics"

	"go.uber.org/multierr"
)

func writeImage(t *testing.T, path string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 30, 120, 200, 255
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func newRunner(opts ...Option) *Runner {
	proc := compressor.NewDefaultCompressor(logger.Discard(), compressor.WithJPEGOptimizer(""))
	return NewRunner(logger.Discard(), proc, opts...)
}

// trackingProcessor records the highest number of concurrent Process calls.
type trackingProcessor struct {
	active  atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
	delay   time.Duration
	panicOn string
}

func (p *trackingProcessor) Process(params compressor.Params) (compressor.Result, error) {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	p.calls.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if params.InputPath == p.panicOn {
		panic("boom")
	}
	time.Sleep(p.delay)
	return compressor.Result{OutputPath: params.OutputPath, OriginalSize: 10, CompressedSize: 5}, nil
}

func TestRun_BoundedConcurrency(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	for i := 0; i < 6; i++ {
		touch(t, filepath.Join(in, fmt.Sprintf("img%d.png", i)))
	}

	proc := &trackingProcessor{delay: 20 * time.Millisecond}
	report, err := NewRunner(logger.Discard(), proc).Run(Request{
		Inputs: []string{in}, Output: out, Quality: 80, Threads: 2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Workers != 2 {
		t.Errorf("workers = %d, want 2", report.Workers)
	}
	if got := proc.calls.Load(); got != 6 {
		t.Errorf("calls = %d, want 6", got)
	}
	if peak := proc.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if report.Succeeded() != 6 || report.Err() != nil {
		t.Errorf("succeeded = %d, err = %v", report.Succeeded(), report.Err())
	}
}

func TestRun_ClampsWorkersToFiles(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	for i := 0; i < 3; i++ {
		touch(t, filepath.Join(in, fmt.Sprintf("img%d.jpg", i)))
	}

	report, err := NewRunner(logger.Discard(), &trackingProcessor{}).Run(Request{
		Inputs: []string{in}, Output: out, Quality: 80, Threads: 1000,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Workers != 3 {
		t.Errorf("workers = %d, want 3", report.Workers)
	}
}

func TestRun_FaultIsolation(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	var corrupt string
	for i := 1; i <= 5; i++ {
		path := filepath.Join(in, fmt.Sprintf("img%d.png", i))
		if i == 3 {
			corrupt = touch(t, path)
			continue
		}
		writeImage(t, path)
	}

	stats := statistics.NewStatistics()
	report, err := newRunner(WithStatistics(stats)).Run(Request{
		Inputs: []string{in}, Output: out, Quality: 75, Threads: 4,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Outcomes) != 5 {
		t.Fatalf("outcomes = %d, want 5", len(report.Outcomes))
	}
	if report.Succeeded() != 4 {
		t.Errorf("succeeded = %d, want 4", report.Succeeded())
	}

	failures := report.Failures()
	if len(failures) != 1 || failures[0].InputPath != corrupt {
		t.Fatalf("failures = %+v", failures)
	}
	if failures[0].Err.Kind != compressor.KindDecode {
		t.Errorf("kind = %v, want DecodeError", failures[0].Err.Kind)
	}
	if !strings.Contains(report.Message(), corrupt) {
		t.Errorf("message %q does not name %s", report.Message(), corrupt)
	}

	batchErr := report.Err()
	if !errors.Is(batchErr, compressor.ErrDecode) {
		t.Errorf("errors.Is(ErrDecode) = false for %v", batchErr)
	}
	if errors.Is(batchErr, compressor.ErrIO) {
		t.Errorf("unexpected IoError in %v", batchErr)
	}
	if parts := multierr.Errors(batchErr); len(parts) != 1 {
		t.Errorf("multierr parts = %d, want 1", len(parts))
	}

	if stats.GetFilesCompressed() != 4 || stats.GetFilesWithErrors() != 1 {
		t.Errorf("stats compressed=%d errors=%d", stats.GetFilesCompressed(), stats.GetFilesWithErrors())
	}
	for _, n := range []int{1, 2, 4, 5} {
		if _, err := os.Stat(filepath.Join(out, fmt.Sprintf("img%d_compressed.jpg", n))); err != nil {
			t.Errorf("missing output for img%d: %v", n, err)
		}
	}
}

func TestRun_DirectoryOutputNaming(t *testing.T) {
	root := t.TempDir()
	in := writeImage(t, filepath.Join(root, "a", "b", "photo.png"))
	out := filepath.Join(root, "out")
	if err := os.Mkdir(out, 0o755); err != nil {
		t.Fatal(err)
	}

	report, err := newRunner().Run(Request{
		Inputs: []string{filepath.Join(root, "a")}, Output: out, Quality: 90,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := filepath.Join(out, "photo_compressed.jpg")
	if len(report.Outcomes) != 1 || report.Outcomes[0].OutputPath != want {
		t.Fatalf("outcomes = %+v, want output %s", report.Outcomes, want)
	}
	if report.Outcomes[0].InputPath != in {
		t.Errorf("input = %s, want %s", report.Outcomes[0].InputPath, in)
	}

	report, err = newRunner().Run(Request{
		Inputs: []string{in}, Output: out, Quality: 90, Format: compressor.WebP,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Outcomes[0].OutputPath; got != filepath.Join(out, "photo_compressed.webp") {
		t.Errorf("webp output = %s", got)
	}
}

func TestRun_SingleFileExplicitOutput(t *testing.T) {
	root := t.TempDir()
	in := writeImage(t, filepath.Join(root, "in.png"))
	out := filepath.Join(root, "custom-name.png")

	report, err := newRunner().Run(Request{
		Inputs: []string{in}, Output: out, Quality: 100, Format: compressor.PNG,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := report.Err(); err != nil {
		t.Fatalf("report error: %v", err)
	}
	if report.Outcomes[0].OutputPath != out {
		t.Errorf("output = %s, want %s", report.Outcomes[0].OutputPath, out)
	}
}

func TestRun_EmptyDirectory(t *testing.T) {
	report, err := newRunner().Run(Request{
		Inputs: []string{t.TempDir()}, Output: t.TempDir(), Quality: 80,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Outcomes) != 0 || report.Err() != nil || report.Message() != "" {
		t.Errorf("expected empty successful report, got %+v", report)
	}
	if report.ID == "" {
		t.Error("report has no id")
	}
}

func TestRun_InvalidRequests(t *testing.T) {
	root := t.TempDir()
	a := writeImage(t, filepath.Join(root, "a.png"))
	b := writeImage(t, filepath.Join(root, "b.png"))
	fileOut := filepath.Join(root, "out.jpg")

	tests := []struct {
		name string
		req  Request
	}{
		{"no inputs", Request{Output: root, Quality: 80}},
		{"empty input", Request{Inputs: []string{""}, Output: root, Quality: 80}},
		{"no output", Request{Inputs: []string{a}, Quality: 80}},
		{"quality too high", Request{Inputs: []string{a}, Output: root, Quality: 101}},
		{"quality negative", Request{Inputs: []string{a}, Output: root, Quality: -1}},
		{"bad resize", Request{Inputs: []string{a}, Output: root, Quality: 80, Resize: compressor.ResizePolicy{Width: 10}}},
		{"many files to one file", Request{Inputs: []string{a, b}, Output: fileOut, Quality: 80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := newRunner().Run(tt.req)
			if !errors.Is(err, compressor.ErrInvalidRequest) {
				t.Errorf("error = %v, want InvalidRequest", err)
			}
			if report != nil {
				t.Errorf("expected no report, got %+v", report)
			}
		})
	}
	if _, err := os.Stat(fileOut); !os.IsNotExist(err) {
		t.Errorf("output written for invalid request: %v", err)
	}
}

func TestRun_OutputCollision(t *testing.T) {
	root := t.TempDir()
	first := writeImage(t, filepath.Join(root, "x", "photo.png"))
	second := writeImage(t, filepath.Join(root, "y", "photo.png"))
	out := filepath.Join(root, "out")
	if err := os.Mkdir(out, 0o755); err != nil {
		t.Fatal(err)
	}

	report, err := newRunner().Run(Request{
		Inputs: []string{first, second}, Output: out, Quality: 80,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	failures := report.Failures()
	if report.Succeeded() != 1 || len(failures) != 1 {
		t.Fatalf("succeeded=%d failures=%+v", report.Succeeded(), failures)
	}
	if failures[0].InputPath != second || failures[0].Err.Kind != compressor.KindIO {
		t.Errorf("failure = %s %v, want %s IoError", failures[0].InputPath, failures[0].Err.Kind, second)
	}
}

func TestRun_OutputWouldOverwriteInput(t *testing.T) {
	dir := t.TempDir()
	photo := writeImage(t, filepath.Join(dir, "photo.png"))
	sibling := writeImage(t, filepath.Join(dir, "photo_compressed.jpg"))

	report, err := newRunner().Run(Request{
		Inputs: []string{dir}, Output: dir, Quality: 80, Threads: 1, DeleteOriginal: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	failures := report.Failures()
	if len(failures) != 1 || failures[0].InputPath != photo {
		t.Fatalf("failures = %+v, want only %s", failures, photo)
	}
	if failures[0].Err.Kind != compressor.KindIO || !strings.Contains(failures[0].Err.Error(), "would overwrite input") {
		t.Errorf("failure = %v", failures[0].Err)
	}
	if _, err := os.Stat(photo); err != nil {
		t.Errorf("rejected input was touched: %v", err)
	}
	for _, o := range report.Outcomes {
		if !o.Success() {
			continue
		}
		if o.InputPath != sibling || o.OutputPath != filepath.Join(dir, "photo_compressed_compressed.jpg") {
			t.Errorf("outcome = %s -> %s", o.InputPath, o.OutputPath)
		}
		if _, err := os.Stat(o.OutputPath); err != nil {
			t.Errorf("output missing: %v", err)
		}
	}

	// A lone input may still be rewritten in place.
	inPlace := writeImage(t, filepath.Join(t.TempDir(), "solo.png"))
	report, err = newRunner().Run(Request{
		Inputs: []string{inPlace}, Output: inPlace, Quality: 100, Format: compressor.PNG,
	})
	if err != nil {
		t.Fatalf("in-place Run: %v", err)
	}
	if err := report.Err(); err != nil {
		t.Errorf("in-place rewrite failed: %v", err)
	}
}

func TestRun_DeleteOriginalIsNotIdempotent(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	if err := os.Mkdir(out, 0o755); err != nil {
		t.Fatal(err)
	}
	inputs := []string{
		writeImage(t, filepath.Join(root, "one.png")),
		writeImage(t, filepath.Join(root, "two.png")),
	}
	req := Request{Inputs: inputs, Output: out, Quality: 80, DeleteOriginal: true}

	stats := statistics.NewStatistics()
	report, err := newRunner(WithStatistics(stats)).Run(req)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := report.Err(); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if stats.OriginalsDeleted != 2 {
		t.Errorf("originals deleted = %d, want 2", stats.OriginalsDeleted)
	}
	for _, in := range inputs {
		if _, err := os.Stat(in); !os.IsNotExist(err) {
			t.Errorf("original %s still exists", in)
		}
	}

	report, err = newRunner().Run(req)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report.Succeeded() != 0 || len(report.Failures()) != 2 {
		t.Fatalf("second run: succeeded=%d failures=%d", report.Succeeded(), len(report.Failures()))
	}
	for _, f := range report.Failures() {
		if f.Err.Kind != compressor.KindDecode {
			t.Errorf("%s: kind = %v, want DecodeError", f.InputPath, f.Err.Kind)
		}
	}
}

func TestRun_PanicIsIsolated(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		paths = append(paths, touch(t, filepath.Join(in, fmt.Sprintf("img%d.gif", i))))
	}

	proc := &trackingProcessor{panicOn: paths[1]}
	report, err := NewRunner(logger.Discard(), proc).Run(Request{
		Inputs: paths, Output: out, Quality: 80, Threads: 2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	failures := report.Failures()
	if report.Succeeded() != 2 || len(failures) != 1 {
		t.Fatalf("succeeded=%d failures=%d", report.Succeeded(), len(failures))
	}
	if failures[0].InputPath != paths[1] || failures[0].Err.Kind != compressor.KindEncoderPanic {
		t.Errorf("failure = %+v", failures[0])
	}
}

func TestRun_Hooks(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	for i := 0; i < 4; i++ {
		touch(t, filepath.Join(in, fmt.Sprintf("img%d.bmp", i)))
	}

	var (
		mu       sync.Mutex
		started  string
		finished []string
	)
	runner := NewRunner(logger.Discard(), &trackingProcessor{},
		WithStartHook(func(id string, files, workers int) {
			if files != 4 || workers != 2 {
				t.Errorf("start hook files=%d workers=%d", files, workers)
			}
			started = id
		}),
		WithOutcomeHook(func(id string, o FileOutcome) {
			mu.Lock()
			defer mu.Unlock()
			if id != started {
				t.Errorf("outcome batch id %s, want %s", id, started)
			}
			finished = append(finished, o.InputPath)
		}),
	)

	report, err := runner.Run(Request{Inputs: []string{in}, Output: out, Quality: 80, Threads: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if started != report.ID {
		t.Errorf("start hook id %s, report id %s", started, report.ID)
	}
	if len(finished) != 4 {
		t.Errorf("outcome hook called %d times, want 4", len(finished))
	}
}

func TestRequestValidate_AcceptsDefaults(t *testing.T) {
	req := Request{Inputs: []string{"a.png"}, Output: "out.jpg", Quality: 0}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if req.format() != compressor.JPEG {
		t.Errorf("default format = %v", req.format())
	}
}
