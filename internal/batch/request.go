package batch

import (
	"os"
	"path/filepath"

	"compressr-go/internal/compressor"
)

// Request is a fully resolved compression batch.
type Request struct {
	// Inputs are files or directories. Directories are walked recursively.
	Inputs []string
	// Output is a file path for a single-file batch, otherwise an existing
	// directory.
	Output           string
	Resize           compressor.ResizePolicy
	Quality          int
	Format           compressor.Format // nil means JPEG
	Threads          int               // <= 0 means AvailableParallelism
	DeleteOriginal   bool
	PreserveMetadata bool
}

// Validate checks everything that can be checked without touching the
// input files.
func (r Request) Validate() error {
	if len(r.Inputs) == 0 {
		return compressor.InvalidRequest("no input paths given")
	}
	for i, in := range r.Inputs {
		if in == "" {
			return compressor.InvalidRequest("input path %d is empty", i+1)
		}
	}
	if r.Output == "" {
		return compressor.InvalidRequest("output path is empty")
	}
	if r.Quality < 0 || r.Quality > 100 {
		return compressor.InvalidRequest("quality must be between 0 and 100, got %d", r.Quality)
	}
	if err := r.Resize.Validate(); err != nil {
		return compressor.InvalidRequest("invalid resize: %v", err)
	}
	return nil
}

func (r Request) format() compressor.Format {
	if r.Format == nil {
		return compressor.JPEG
	}
	return r.Format
}

// job is one planned file. err is set when the file cannot be scheduled.
type job struct {
	input  string
	output string
	err    *compressor.Error
}

// plan assigns an output path to every file. Outputs into a directory are
// flattened to <stem>_compressed.<ext>; when two inputs map to the same
// output the later one is rejected rather than racing the earlier one, and
// an output that lands on another input of the batch is rejected outright.
func plan(files []string, r Request) ([]job, error) {
	outIsDir := false
	if info, err := os.Stat(r.Output); err == nil && info.IsDir() {
		outIsDir = true
	}
	if len(files) > 1 && !outIsDir {
		return nil, compressor.InvalidRequest(
			"output %s must be an existing directory when compressing %d files", r.Output, len(files))
	}

	format := r.format()
	inputs := make(map[string]string, len(files))
	for _, in := range files {
		inputs[absPath(in)] = in
	}

	claimed := make(map[string]string, len(files))
	jobs := make([]job, 0, len(files))
	for _, in := range files {
		out := r.Output
		if outIsDir {
			out = filepath.Join(r.Output, compressor.OutputName(in, format))
		}

		key := absPath(out)
		if other, ok := inputs[key]; ok && other != in {
			jobs = append(jobs, planError(in, &collisionError{output: out, other: other, input: true}))
			continue
		}
		if first, ok := claimed[key]; ok {
			jobs = append(jobs, planError(in, &collisionError{output: out, other: first}))
			continue
		}
		claimed[key] = in
		jobs = append(jobs, job{input: in, output: out})
	}
	return jobs, nil
}

func planError(in string, err error) job {
	return job{input: in, err: &compressor.Error{
		Kind: compressor.KindIO,
		Path: in,
		Op:   "plan output",
		Err:  err,
	}}
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

type collisionError struct {
	output, other string
	input         bool
}

func (e *collisionError) Error() string {
	if e.input {
		return "output " + e.output + " would overwrite input " + e.other
	}
	return "output " + e.output + " is already written by " + e.other
}
