//go:build !linux

package multi

import "runtime"

func availableCPUs() int {
	return runtime.NumCPU()
}
