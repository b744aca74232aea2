//go:build !linux

package wasi

func cpuTime(bool) (uint64, Errno) {
	return 0, ErrnoNotsup
}

func cpuTimeResolution(bool) (uint64, Errno) {
	return 0, ErrnoNotsup
}
