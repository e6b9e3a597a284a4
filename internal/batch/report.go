package batch

import (
	"errors"
	"strings"
	"time"

	"compressr-go/internal/compressor"

	"go.uber.org/multierr"
)

// FileOutcome is the result of compressing one input. Err is nil on success.
type FileOutcome struct {
	InputPath      string            `json:"input_path"`
	OutputPath     string            `json:"output_path,omitempty"`
	OriginalSize   int64             `json:"original_size"`
	CompressedSize int64             `json:"compressed_size,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	Err            *compressor.Error `json:"-"`
}

// Success reports whether the file was written.
func (o FileOutcome) Success() bool {
	return o.Err == nil
}

// Message is the human-readable failure line, empty on success.
func (o FileOutcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.InputPath + ": " + o.Err.Error()
}

// BatchReport collects one outcome per input, in completion order.
type BatchReport struct {
	ID         string        `json:"id"`
	Workers    int           `json:"workers"`
	Outcomes   []FileOutcome `json:"outcomes"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Succeeded returns how many files were written.
func (r *BatchReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success() {
			n++
		}
	}
	return n
}

// Failures returns the failed outcomes.
func (r *BatchReport) Failures() []FileOutcome {
	var failed []FileOutcome
	for _, o := range r.Outcomes {
		if !o.Success() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Message joins every failure line with newlines. Empty means full success.
func (r *BatchReport) Message() string {
	failed := r.Failures()
	lines := make([]string, len(failed))
	for i, o := range failed {
		lines[i] = o.Message()
	}
	return strings.Join(lines, "\n")
}

// Err returns nil on full success, otherwise a combined error whose text is
// Message and whose parts can be inspected with multierr.Errors.
func (r *BatchReport) Err() error {
	var combined error
	for _, o := range r.Failures() {
		combined = multierr.Append(combined, &fileError{outcome: o})
	}
	if combined == nil {
		return nil
	}
	return &batchError{msg: r.Message(), err: combined}
}

type fileError struct {
	outcome FileOutcome
}

func (e *fileError) Error() string { return e.outcome.Message() }
func (e *fileError) Unwrap() error { return e.outcome.Err }

type batchError struct {
	msg string
	err error
}

func (e *batchError) Error() string { return e.msg }

func (e *batchError) Unwrap() []error { return multierr.Errors(e.err) }

// Errors exposes the per-file errors to multierr.Errors.
func (e *batchError) Errors() []error { return multierr.Errors(e.err) }

// Is lets errors.Is see through to any file's error.
func (e *batchError) Is(target error) bool {
	for _, err := range multierr.Errors(e.err) {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
