package statistics

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains all statistics for a compression batch.
type Statistics struct {
	TotalFilesFound     int64
	TotalFilesProcessed int64
	FilesCompressed     int64
	FilesWithErrors     int64
	OriginalsDeleted    int64

	BytesRead    int64
	BytesWritten int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64
	Workers        int

	Errors []StatError

	mutex sync.RWMutex

	FileTypeStats map[string]int64
	ErrorKinds    map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Kind      string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:     time.Now(),
		FileTypeStats: make(map[string]int64),
		ErrorKinds:    make(map[string]int64),
		Errors:        make([]StatError, 0),
	}
}

// SetFilesFound records how many files the batch discovered.
func (s *Statistics) SetFilesFound(n int) {
	atomic.StoreInt64(&s.TotalFilesFound, int64(n))
}

// SetWorkers records the worker pool size used by the batch.
func (s *Statistics) SetWorkers(n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Workers = n
}

// RecordSuccess records a successfully compressed file.
func (s *Statistics) RecordSuccess(inputPath string, originalSize, compressedSize int64, deleted bool) {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
	atomic.AddInt64(&s.FilesCompressed, 1)
	atomic.AddInt64(&s.BytesRead, originalSize)
	atomic.AddInt64(&s.BytesWritten, compressedSize)
	if deleted {
		atomic.AddInt64(&s.OriginalsDeleted, 1)
	}
	s.incrementFileType(inputPath)
}

// RecordFailure records a file that could not be compressed.
func (s *Statistics) RecordFailure(inputPath, kind, errorMsg string) {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
	atomic.AddInt64(&s.FilesWithErrors, 1)
	s.incrementFileType(inputPath)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.ErrorKinds[kind]++
	s.Errors = append(s.Errors, StatError{
		FilePath:  inputPath,
		Kind:      kind,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

func (s *Statistics) incrementFileType(path string) {
	ext := strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		ext = "NONE"
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FileTypeStats[ext]++
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	if secs := s.Duration.Seconds(); secs > 0 {
		s.FilesPerSecond = float64(atomic.LoadInt64(&s.TotalFilesProcessed)) / secs
	}
}

// SpaceSaved returns bytes saved across successful files; negative when the
// outputs grew.
func (s *Statistics) SpaceSaved() int64 {
	return atomic.LoadInt64(&s.BytesRead) - atomic.LoadInt64(&s.BytesWritten)
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration, fps, workers := s.Duration, s.FilesPerSecond, s.Workers
	s.mutex.RUnlock()

	read := atomic.LoadInt64(&s.BytesRead)
	written := atomic.LoadInt64(&s.BytesWritten)
	ratio := 0.0
	if read > 0 {
		ratio = float64(read-written) * 100 / float64(read)
	}

	return fmt.Sprintf(`Compression Summary:

Files:
		Found: %d
		Processed: %d
		Compressed: %d
		Errors: %d
		Originals Deleted: %d

Size:
		Read: %s
		Written: %s
		Saved: %.1f%%

Performance:
		Workers: %d
		Duration: %v
		Files/Second: %.2f`,
		atomic.LoadInt64(&s.TotalFilesFound),
		atomic.LoadInt64(&s.TotalFilesProcessed),
		atomic.LoadInt64(&s.FilesCompressed),
		atomic.LoadInt64(&s.FilesWithErrors),
		atomic.LoadInt64(&s.OriginalsDeleted),
		formatBytes(read),
		formatBytes(written),
		ratio,
		workers,
		duration,
		fps)
}

// GetFileTypeBreakdown returns a formatted breakdown of input file types.
func (s *Statistics) GetFileTypeBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FileTypeStats) == 0 {
		return "No file type statistics available"
	}

	types := make([]string, 0, len(s.FileTypeStats))
	for t := range s.FileTypeStats {
		types = append(types, t)
	}
	sort.Strings(types)

	result := "File Type Breakdown:\n"
	for _, t := range types {
		result += fmt.Sprintf("  %s: %d\n", t, s.FileTypeStats[t])
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Kind,
			err.FilePath,
			err.Error)
	}
	return result
}

// Snapshot returns the counters as a map suitable for JSON responses.
func (s *Statistics) Snapshot() map[string]interface{} {
	s.mutex.RLock()
	kinds := make(map[string]int64, len(s.ErrorKinds))
	for k, v := range s.ErrorKinds {
		kinds[k] = v
	}
	workers := s.Workers
	s.mutex.RUnlock()

	return map[string]interface{}{
		"total_found":       atomic.LoadInt64(&s.TotalFilesFound),
		"total_processed":   atomic.LoadInt64(&s.TotalFilesProcessed),
		"compressed":        atomic.LoadInt64(&s.FilesCompressed),
		"errors":            atomic.LoadInt64(&s.FilesWithErrors),
		"originals_deleted": atomic.LoadInt64(&s.OriginalsDeleted),
		"bytes_read":        atomic.LoadInt64(&s.BytesRead),
		"bytes_written":     atomic.LoadInt64(&s.BytesWritten),
		"workers":           workers,
		"error_kinds":       kinds,
	}
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// GetTotalFilesProcessed returns the total number of files processed.
func (s *Statistics) GetTotalFilesProcessed() int64 {
	return atomic.LoadInt64(&s.TotalFilesProcessed)
}

// GetFilesCompressed returns the number of files written successfully.
func (s *Statistics) GetFilesCompressed() int64 {
	return atomic.LoadInt64(&s.FilesCompressed)
}

// GetFilesWithErrors returns the number of files that failed.
func (s *Statistics) GetFilesWithErrors() int64 {
	return atomic.LoadInt64(&s.FilesWithErrors)
}

// GetDuration returns the total duration of the operation.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}
