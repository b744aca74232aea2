package wasi

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wasmedge-go/wasmedge/api"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
	"github.com/wasmedge-go/wasmedge/sys"
)

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

const (
	FunctionArgsGet              = "args_get"
	FunctionArgsSizesGet         = "args_sizes_get"
	FunctionEnvironGet           = "environ_get"
	FunctionEnvironSizesGet      = "environ_sizes_get"
	FunctionClockResGet          = "clock_res_get"
	FunctionClockTimeGet         = "clock_time_get"
	FunctionFdAdvise             = "fd_advise"
	FunctionFdAllocate           = "fd_allocate"
	FunctionFdClose              = "fd_close"
	FunctionFdDatasync           = "fd_datasync"
	FunctionFdFdstatGet          = "fd_fdstat_get"
	FunctionFdFdstatSetFlags     = "fd_fdstat_set_flags"
	FunctionFdFdstatSetRights    = "fd_fdstat_set_rights"
	FunctionFdFilestatGet        = "fd_filestat_get"
	FunctionFdFilestatSetSize    = "fd_filestat_set_size"
	FunctionFdFilestatSetTimes   = "fd_filestat_set_times"
	FunctionFdPread              = "fd_pread"
	FunctionFdPrestatGet         = "fd_prestat_get"
	FunctionFdPrestatDirName     = "fd_prestat_dir_name"
	FunctionFdPwrite             = "fd_pwrite"
	FunctionFdRead               = "fd_read"
	FunctionFdReaddir            = "fd_readdir"
	FunctionFdRenumber           = "fd_renumber"
	FunctionFdSeek               = "fd_seek"
	FunctionFdSync               = "fd_sync"
	FunctionFdTell               = "fd_tell"
	FunctionFdWrite              = "fd_write"
	FunctionPathCreateDirectory  = "path_create_directory"
	FunctionPathFilestatGet      = "path_filestat_get"
	FunctionPathFilestatSetTimes = "path_filestat_set_times"
	FunctionPathLink             = "path_link"
	FunctionPathOpen             = "path_open"
	FunctionPathReadlink         = "path_readlink"
	FunctionPathRemoveDirectory  = "path_remove_directory"
	FunctionPathRename           = "path_rename"
	FunctionPathSymlink          = "path_symlink"
	FunctionPathUnlinkFile       = "path_unlink_file"
	FunctionPollOneoff           = "poll_oneoff"
	FunctionProcExit             = "proc_exit"
	FunctionProcRaise            = "proc_raise"
	FunctionSchedYield           = "sched_yield"
	FunctionRandomGet            = "random_get"
	FunctionSockRecv             = "sock_recv"
	FunctionSockSend             = "sock_send"
	FunctionSockShutdown         = "sock_shutdown"
)

// https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-clockid-enumu32
const (
	clockIDRealtime = iota
	clockIDMonotonic
	clockIDProcessCputime
	clockIDThreadCputime
)

// errnoFunc is a WASI function whose only result is an Errno.
type errnoFunc func(mem api.Memory, params []uint64) Errno

func newHostFunc(name string, fn errnoFunc, params ...api.ValueType) *wasm.HostFunc {
	return &wasm.HostFunc{
		Name:        name,
		ParamTypes:  params,
		ResultTypes: []api.ValueType{i32},
		Call: func(_ context.Context, m api.Module, p []uint64) ([]uint64, error) {
			return []uint64{uint64(fn(memoryOf(m), p))}, nil
		},
	}
}

// nosys links a function this package does not implement, so that guests importing it can still instantiate.
func nosys(name string, params ...api.ValueType) *wasm.HostFunc {
	return newHostFunc(name, func(api.Memory, []uint64) Errno { return ErrnoNosys }, params...)
}

// memoryOf returns the memory of the caller, or an empty one, which faults on any access.
func memoryOf(m api.Module) api.Memory {
	if mem := m.Memory(); mem != nil {
		return mem
	}
	return &wasm.MemoryInstance{}
}

func (e *Environment) hostFuncs() []*wasm.HostFunc {
	return []*wasm.HostFunc{
		newHostFunc(FunctionArgsGet, e.argsGet, i32, i32),
		newHostFunc(FunctionArgsSizesGet, e.argsSizesGet, i32, i32),
		newHostFunc(FunctionEnvironGet, e.environGet, i32, i32),
		newHostFunc(FunctionEnvironSizesGet, e.environSizesGet, i32, i32),
		newHostFunc(FunctionClockResGet, e.clockResGet, i32, i32),
		newHostFunc(FunctionClockTimeGet, e.clockTimeGet, i32, i64, i32),
		newHostFunc(FunctionFdClose, e.fdClose, i32),
		newHostFunc(FunctionFdFdstatGet, e.fdFdstatGet, i32, i32),
		newHostFunc(FunctionFdFilestatGet, e.fdFilestatGet, i32, i32),
		newHostFunc(FunctionFdPrestatGet, e.fdPrestatGet, i32, i32),
		newHostFunc(FunctionFdPrestatDirName, e.fdPrestatDirName, i32, i32, i32),
		newHostFunc(FunctionFdRead, e.fdRead, i32, i32, i32, i32),
		newHostFunc(FunctionFdSeek, e.fdSeek, i32, i64, i32, i32),
		newHostFunc(FunctionFdTell, e.fdTell, i32, i32),
		newHostFunc(FunctionFdWrite, e.fdWrite, i32, i32, i32, i32),
		newHostFunc(FunctionPathFilestatGet, e.pathFilestatGet, i32, i32, i32, i32, i32),
		newHostFunc(FunctionPathOpen, e.pathOpen, i32, i32, i32, i32, i32, i64, i64, i32, i32),
		e.pollOneoff(),
		e.procExit(),
		newHostFunc(FunctionRandomGet, e.randomGet, i32, i32),
		newHostFunc(FunctionSchedYield, schedYield),

		nosys(FunctionFdAdvise, i32, i64, i64, i32),
		nosys(FunctionFdAllocate, i32, i64, i64),
		nosys(FunctionFdDatasync, i32),
		nosys(FunctionFdFdstatSetFlags, i32, i32),
		nosys(FunctionFdFdstatSetRights, i32, i64, i64),
		nosys(FunctionFdFilestatSetSize, i32, i64),
		nosys(FunctionFdFilestatSetTimes, i32, i64, i64, i32),
		nosys(FunctionFdPread, i32, i32, i32, i64, i32),
		nosys(FunctionFdPwrite, i32, i32, i32, i64, i32),
		nosys(FunctionFdReaddir, i32, i32, i32, i64, i32),
		nosys(FunctionFdRenumber, i32, i32),
		nosys(FunctionFdSync, i32),
		nosys(FunctionPathCreateDirectory, i32, i32, i32),
		nosys(FunctionPathFilestatSetTimes, i32, i32, i32, i32, i64, i64, i32),
		nosys(FunctionPathLink, i32, i32, i32, i32, i32, i32, i32),
		nosys(FunctionPathReadlink, i32, i32, i32, i32, i32, i32),
		nosys(FunctionPathRemoveDirectory, i32, i32, i32),
		nosys(FunctionPathRename, i32, i32, i32, i32, i32, i32),
		nosys(FunctionPathSymlink, i32, i32, i32, i32, i32),
		nosys(FunctionPathUnlinkFile, i32, i32, i32),
		nosys(FunctionProcRaise, i32),
		nosys(FunctionSockRecv, i32, i32, i32, i32, i32, i32),
		nosys(FunctionSockSend, i32, i32, i32, i32, i32),
		nosys(FunctionSockShutdown, i32, i32),
	}
}

// argsGet is the WASI function named FunctionArgsGet. It writes the offset of each argument to argv and the
// NUL-terminated arguments themselves to argvBuf.
//
// For example, for the arguments "a" and "bc", argv=7 and argvBuf=1, memory ends up as:
//
//	            argvBuf             argv
//	               |                 |
//	[]byte{?, 'a', 0, 'b', 'c', 0, ?, 1, 0, 0, 0, 3, 0, 0, 0, ?}
func (e *Environment) argsGet(mem api.Memory, params []uint64) Errno {
	e.mux.Lock()
	args := e.args
	e.mux.Unlock()
	return writeOffsetsAndNullTerminatedValues(mem, args, uint32(params[0]), uint32(params[1]))
}

// argsSizesGet is the WASI function named FunctionArgsSizesGet. It writes the argument count and the size of all
// arguments, including their NUL terminators.
func (e *Environment) argsSizesGet(mem api.Memory, params []uint64) Errno {
	e.mux.Lock()
	args := e.args
	e.mux.Unlock()
	return writeSizes(mem, args, uint32(params[0]), uint32(params[1]))
}

// environGet is the WASI function named FunctionEnvironGet. It writes in the same format as argsGet.
func (e *Environment) environGet(mem api.Memory, params []uint64) Errno {
	e.mux.Lock()
	environ := e.environ
	e.mux.Unlock()
	return writeOffsetsAndNullTerminatedValues(mem, environ, uint32(params[0]), uint32(params[1]))
}

// environSizesGet is the WASI function named FunctionEnvironSizesGet.
func (e *Environment) environSizesGet(mem api.Memory, params []uint64) Errno {
	e.mux.Lock()
	environ := e.environ
	e.mux.Unlock()
	return writeSizes(mem, environ, uint32(params[0]), uint32(params[1]))
}

// clockResGet is the WASI function named FunctionClockResGet, writing the resolution of a clock as uint64le.
func (e *Environment) clockResGet(mem api.Memory, params []uint64) Errno {
	id, resultResolution := uint32(params[0]), uint32(params[1])

	var resolution uint64
	errno := ErrnoSuccess
	switch id {
	case clockIDRealtime:
		resolution = 1000 // microseconds
	case clockIDMonotonic:
		resolution = 1
	case clockIDProcessCputime, clockIDThreadCputime:
		resolution, errno = cpuTimeResolution(id == clockIDThreadCputime)
	default:
		errno = ErrnoInval
	}
	if errno != ErrnoSuccess {
		return errno
	}
	if !mem.WriteUint64Le(resultResolution, resolution) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// clockTimeGet is the WASI function named FunctionClockTimeGet, writing the time of a clock in nanoseconds as
// uint64le. The precision parameter is ignored.
func (e *Environment) clockTimeGet(mem api.Memory, params []uint64) Errno {
	id, resultTimestamp := uint32(params[0]), uint32(params[2])

	var timestamp uint64
	errno := ErrnoSuccess
	switch id {
	case clockIDRealtime:
		timestamp = uint64(e.walltime().UnixNano())
	case clockIDMonotonic:
		timestamp = uint64(e.nanotime())
	case clockIDProcessCputime, clockIDThreadCputime:
		timestamp, errno = cpuTime(id == clockIDThreadCputime)
	default:
		errno = ErrnoInval
	}
	if errno != ErrnoSuccess {
		return errno
	}
	if !mem.WriteUint64Le(resultTimestamp, timestamp) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// fdClose is the WASI function named FunctionFdClose.
func (e *Environment) fdClose(_ api.Memory, params []uint64) Errno {
	f, ok := e.fds.remove(uint32(params[0]))
	if !ok {
		return ErrnoBadf
	}
	if f.file != nil {
		if err := f.file.Close(); err != nil {
			return ErrnoIo
		}
	}
	return ErrnoSuccess
}

// fdFdstatGet is the WASI function named FunctionFdFdstatGet. It writes a 24-byte fdstat:
//
//	offset 0: filetype (u8)
//	offset 2: fdflags (u16le)
//	offset 8: rights base (u64le)
//	offset 16: rights inheriting (u64le)
//
// Stdio is a character device when it is a terminal, otherwise a regular file.
func (e *Environment) fdFdstatGet(mem api.Memory, params []uint64) Errno {
	fd, resultStat := uint32(params[0]), uint32(params[1])

	f, ok := e.fds.lookup(fd)
	if !ok {
		return ErrnoBadf
	}

	base, inheriting := f.rights()

	stat := make([]byte, 24)
	stat[0] = f.fileType()
	binary.LittleEndian.PutUint64(stat[8:], base)
	binary.LittleEndian.PutUint64(stat[16:], inheriting)
	if !mem.Write(resultStat, stat) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func isTerminal(v interface{}) bool {
	if f, ok := v.(interface{ Fd() uintptr }); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// fdFilestatGet is the WASI function named FunctionFdFilestatGet. It writes the 64-byte filestat of fd to
// resultBuf. Stdio has no host file, so only its type and link count are set.
func (e *Environment) fdFilestatGet(mem api.Memory, params []uint64) Errno {
	fd, resultBuf := uint32(params[0]), uint32(params[1])

	f, ok := e.fds.lookup(fd)
	if !ok {
		return ErrnoBadf
	}
	st, err := f.stat()
	if err != nil {
		return toErrno(err)
	}

	fileType := f.fileType()
	if st != nil {
		fileType = fileTypeOf(st.Mode())
	}
	if !mem.Write(resultBuf, filestat(fileType, st)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// fdPrestatGet is the WASI function named FunctionFdPrestatGet. It writes the prestat of a preopened directory: a
// zero tag padded to four bytes, then the length of its guest path as uint32le.
func (e *Environment) fdPrestatGet(mem api.Memory, params []uint64) Errno {
	fd, resultPrestat := uint32(params[0]), uint32(params[1])

	f, ok := e.fds.lookup(fd)
	if !ok || !f.preopen {
		return ErrnoBadf
	}

	prestat := make([]byte, 8)
	binary.LittleEndian.PutUint32(prestat[4:], uint32(len(f.name)))
	if !mem.Write(resultPrestat, prestat) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// fdPrestatDirName is the WASI function named FunctionFdPrestatDirName, writing the guest path of a preopened
// directory without a NUL terminator.
func (e *Environment) fdPrestatDirName(mem api.Memory, params []uint64) Errno {
	fd, pathPtr, pathLen := uint32(params[0]), uint32(params[1]), uint32(params[2])

	f, ok := e.fds.lookup(fd)
	if !ok || !f.preopen {
		return ErrnoBadf
	}
	if pathLen < uint32(len(f.name)) {
		return ErrnoNametoolong
	}
	if !mem.Write(pathPtr, []byte(f.name)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// fdRead is the WASI function named FunctionFdRead. It reads into each (offset, length) pair of iovs in order, and
// writes the total bytes read to resultSize. Reading stops early at EOF or a short read.
func (e *Environment) fdRead(mem api.Memory, params []uint64) Errno {
	fd, iovs, iovsCount, resultSize := uint32(params[0]), uint32(params[1]), uint32(params[2]), uint32(params[3])

	var reader io.Reader
	if f, ok := e.fds.lookup(fd); !ok {
		return ErrnoBadf
	} else if f.reader != nil {
		reader = f.reader
	} else if f.file != nil && !f.isDir {
		reader = f.file
	} else {
		return ErrnoBadf
	}

	var nread uint32
	for i := uint32(0); i < iovsCount; i++ {
		b, errno := iovec(mem, iovs+i*8)
		if errno != ErrnoSuccess {
			return errno
		}
		n, err := reader.Read(b)
		nread += uint32(n)
		if errors.Is(err, io.EOF) || (err == nil && n < len(b)) {
			break
		} else if err != nil {
			return toErrno(err)
		}
	}
	if !mem.WriteUint32Le(resultSize, nread) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// fdSeek is the WASI function named FunctionFdSeek. It moves the offset of an opened file and writes the new offset
// as uint64le. whence is the same as io.Seeker's: 0 is start, 1 is current and 2 is end.
func (e *Environment) fdSeek(mem api.Memory, params []uint64) Errno {
	fd, offset, whence, resultNewOffset := uint32(params[0]), int64(params[1]), uint32(params[2]), uint32(params[3])

	f, ok := e.fds.lookup(fd)
	switch {
	case !ok || f.isDir:
		return ErrnoBadf
	case f.file == nil:
		return ErrnoSpipe
	case whence > io.SeekEnd:
		return ErrnoInval
	}

	newOffset, err := f.file.Seek(offset, int(whence))
	if err != nil {
		return toErrno(err)
	}
	if !mem.WriteUint64Le(resultNewOffset, uint64(newOffset)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// fdTell is the WASI function named FunctionFdTell, writing the current offset of fd as uint64le to resultOffset.
func (e *Environment) fdTell(mem api.Memory, params []uint64) Errno {
	fd, resultOffset := uint32(params[0]), uint32(params[1])

	f, ok := e.fds.lookup(fd)
	switch {
	case !ok || f.isDir:
		return ErrnoBadf
	case f.file == nil:
		return ErrnoSpipe
	}

	offset, err := f.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return toErrno(err)
	}
	if !mem.WriteUint64Le(resultOffset, uint64(offset)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// fdWrite is the WASI function named FunctionFdWrite. It writes each (offset, length) pair of iovs in order, and
// writes the total bytes written to resultSize.
func (e *Environment) fdWrite(mem api.Memory, params []uint64) Errno {
	fd, iovs, iovsCount, resultSize := uint32(params[0]), uint32(params[1]), uint32(params[2]), uint32(params[3])

	var writer io.Writer
	if f, ok := e.fds.lookup(fd); !ok {
		return ErrnoBadf
	} else if f.writer != nil {
		writer = f.writer
	} else if f.file != nil && !f.isDir {
		writer = f.file
	} else {
		return ErrnoBadf
	}

	var nwritten uint32
	for i := uint32(0); i < iovsCount; i++ {
		b, errno := iovec(mem, iovs+i*8)
		if errno != ErrnoSuccess {
			return errno
		}
		n, err := writer.Write(b)
		nwritten += uint32(n)
		if err != nil {
			return toErrno(err)
		}
	}
	if !mem.WriteUint32Le(resultSize, nwritten) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// iovec reads the uint32le offset and length at iovPtr and returns the memory they point to.
func iovec(mem api.Memory, iovPtr uint32) ([]byte, Errno) {
	offset, ok := mem.ReadUint32Le(iovPtr)
	if !ok {
		return nil, ErrnoFault
	}
	l, ok := mem.ReadUint32Le(iovPtr + 4)
	if !ok {
		return nil, ErrnoFault
	}
	b, ok := mem.Read(offset, l)
	if !ok {
		return nil, ErrnoFault
	}
	return b, ErrnoSuccess
}

// pathFilestatGet is the WASI function named FunctionPathFilestatGet. It writes the 64-byte filestat of the path
// relative to the directory fd to resultBuf. The path may not escape the directory.
func (e *Environment) pathFilestatGet(mem api.Memory, params []uint64) Errno {
	fd, flags, pathPtr, pathLen, resultBuf := uint32(params[0]), uint32(params[1]), uint32(params[2]),
		uint32(params[3]), uint32(params[4])

	dir, ok := e.fds.lookup(fd)
	if !ok {
		return ErrnoBadf
	}
	b, ok := mem.Read(pathPtr, pathLen)
	if !ok {
		return ErrnoFault
	}

	st, errno := statPath(dir, string(b), flags&lookupflagSymlinkFollow != 0)
	if errno != ErrnoSuccess {
		return errno
	}
	if !mem.Write(resultBuf, filestat(fileTypeOf(st.Mode()), st)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// pathOpen is the WASI function named FunctionPathOpen. It opens a path relative to a directory descriptor and writes
// the new descriptor as uint32le. Paths must stay within the directory: absolute paths or ones escaping with ".."
// return ErrnoNotcapable.
func (e *Environment) pathOpen(mem api.Memory, params []uint64) Errno {
	fd, pathPtr, pathLen, oflags := uint32(params[0]), uint32(params[2]), uint32(params[3]), uint32(params[4])
	rights, fdflags, resultOpenedFd := params[5], uint32(params[7]), uint32(params[8])

	dir, ok := e.fds.lookup(fd)
	if !ok {
		return ErrnoBadf
	}
	b, ok := mem.Read(pathPtr, pathLen)
	if !ok {
		return ErrnoFault
	}

	f, errno := openFile(dir, string(b), oflags, rights, fdflags)
	if errno != ErrnoSuccess {
		e.logger.Debug("path_open failed", zap.String("path", string(b)), zap.String("errno", ErrnoName(errno)))
		return errno
	}

	newFD := e.fds.insert(f)
	if !mem.WriteUint32Le(resultOpenedFd, newFD) {
		e.fds.remove(newFD)
		_ = f.file.Close()
		return ErrnoFault
	}
	return ErrnoSuccess
}

// procExit is the WASI function named FunctionProcExit. It records the exit code and unwinds the guest with a
// sys.ExitError, which is not a trap.
func (e *Environment) procExit() *wasm.HostFunc {
	return &wasm.HostFunc{
		Name:       FunctionProcExit,
		ParamTypes: []api.ValueType{i32},
		Call: func(_ context.Context, m api.Module, params []uint64) ([]uint64, error) {
			code := uint32(params[0])
			e.exit(code)
			return nil, sys.NewExitError(m.Name(), code)
		},
	}
}

// randomGet is the WASI function named FunctionRandomGet, filling bufLen bytes at buf from the random source.
func (e *Environment) randomGet(mem api.Memory, params []uint64) Errno {
	buf, bufLen := uint32(params[0]), uint32(params[1])

	b, ok := mem.Read(buf, bufLen)
	if !ok {
		return ErrnoFault
	}
	random := make([]byte, bufLen)
	if _, err := io.ReadFull(e.randSource, random); err != nil {
		return ErrnoIo
	}
	copy(b, random)
	return ErrnoSuccess
}

// schedYield is the WASI function named FunctionSchedYield.
func schedYield(api.Memory, []uint64) Errno {
	runtime.Gosched()
	return ErrnoSuccess
}

func writeOffsetsAndNullTerminatedValues(mem api.Memory, values []string, offsets, bytes uint32) Errno {
	for _, value := range values {
		// Write current offset and advance it.
		if !mem.WriteUint32Le(offsets, bytes) {
			return ErrnoFault
		}
		offsets += 4 // size of uint32

		// Write the next value to memory with a NUL terminator
		if !mem.Write(bytes, []byte(value)) {
			return ErrnoFault
		}
		bytes += uint32(len(value))
		if !mem.WriteByte(bytes, 0) {
			return ErrnoFault
		}
		bytes++
	}
	return ErrnoSuccess
}

func writeSizes(mem api.Memory, values []string, resultCount, resultBufSize uint32) Errno {
	var size uint32
	for _, v := range values {
		size += uint32(len(v)) + 1 // NUL terminator
	}
	if !mem.WriteUint32Le(resultCount, uint32(len(values))) {
		return ErrnoFault
	}
	if !mem.WriteUint32Le(resultBufSize, size) {
		return ErrnoFault
	}
	return ErrnoSuccess
}
