package wasi

import "golang.org/x/sys/unix"

// cpuTime returns the CPU time of the process or the calling thread in nanoseconds.
func cpuTime(thread bool) (uint64, Errno) {
	var ts unix.Timespec
	if err := unix.ClockGettime(cpuClockID(thread), &ts); err != nil {
		return 0, ErrnoNotsup
	}
	return uint64(ts.Nano()), ErrnoSuccess
}

func cpuTimeResolution(thread bool) (uint64, Errno) {
	var ts unix.Timespec
	if err := unix.ClockGetres(cpuClockID(thread), &ts); err != nil {
		return 0, ErrnoNotsup
	}
	return uint64(ts.Nano()), ErrnoSuccess
}

func cpuClockID(thread bool) int32 {
	if thread {
		return unix.CLOCK_THREAD_CPUTIME_ID
	}
	return unix.CLOCK_PROCESS_CPUTIME_ID
}
