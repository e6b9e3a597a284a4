package batch

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// AvailableParallelism returns the number of logical CPUs this process may
// use, suitable as a default worker count.
func AvailableParallelism() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	if procs := runtime.GOMAXPROCS(0); procs < n {
		n = procs
	}
	return max(n, 1)
}

// poolSize clamps the requested worker count to the amount of work. A
// non-positive request means "use every available CPU".
func poolSize(requested, files int) int {
	if files <= 0 {
		return 0
	}
	if requested <= 0 {
		requested = AvailableParallelism()
	}
	return max(1, min(requested, files))
}
