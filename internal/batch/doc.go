// Package batch runs the parallel compression pipeline over a set of files.
//
// A Runner resolves a Request into a file list (walking directories), plans
// one output path per file, and compresses every file on a worker pool that
// is created for the call and released when it returns. Each file's outcome
// is captured on its own; one broken image never stops the others.
//
// ListImages and AvailableParallelism back the companion queries used by
// callers to populate defaults.
package batch
