//go:build linux

package multi

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// availableCPUs counts the CPUs in the scheduler affinity mask, which is
// smaller than the machine total inside cgroups or under taskset.
func availableCPUs() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return runtime.NumCPU()
	}
	if n := set.Count(); n > 0 {
		return n
	}
	return runtime.NumCPU()
}
