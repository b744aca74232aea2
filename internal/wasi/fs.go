package wasi

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
)

// https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-filetype-enumu8
const (
	fileTypeUnknown uint8 = iota
	fileTypeBlockDevice
	fileTypeCharacterDevice
	fileTypeDirectory
	fileTypeRegularFile
	fileTypeSocketDgram
	fileTypeSocketStream
	fileTypeSymbolicLink
)

// https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-oflags-flagsu16
const (
	oflagCreat = 1 << iota
	oflagDirectory
	oflagExcl
	oflagTrunc
)

// https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-lookupflags-flagsu32
const lookupflagSymlinkFollow = 1

// https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-fdflags-flagsu16
const fdflagAppend = 1

// https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-rights-flagsu64
const (
	rightFdDatasync uint64 = 1 << iota
	rightFdRead
	rightFdSeek
	rightFdFdstatSetFlags
	rightFdSync
	rightFdTell
	rightFdWrite
	rightFdAdvise
	rightFdAllocate
	rightPathCreateDirectory
	rightPathCreateFile
	rightPathLinkSource
	rightPathLinkTarget
	rightPathOpen
	rightFdReaddir
	rightPathReadlink
	rightPathRenameSource
	rightPathRenameTarget
	rightPathFilestatGet
	rightPathFilestatSetSize
	rightPathFilestatSetTimes
	rightFdFilestatGet
	rightFdFilestatSetSize
	rightFdFilestatSetTimes
	rightPathSymlink
	rightPathRemoveDirectory
	rightPathUnlinkFile
	rightPollFdReadwrite
	rightSockShutdown
)

const (
	// stdioRights exclude seek and tell, so that wasi-libc isatty sees a terminal as one.
	stdioRights = rightFdRead | rightFdWrite | rightFdFdstatSetFlags | rightPollFdReadwrite
	fileRights  = rightFdDatasync | rightFdRead | rightFdSeek | rightFdFdstatSetFlags | rightFdSync | rightFdTell |
		rightFdWrite | rightFdAdvise | rightFdAllocate | rightFdFilestatGet | rightFdFilestatSetSize |
		rightFdFilestatSetTimes | rightPollFdReadwrite
	dirRights = rightFdFdstatSetFlags | rightFdSync | rightFdAdvise | rightPathCreateDirectory |
		rightPathCreateFile | rightPathLinkSource | rightPathLinkTarget | rightPathOpen | rightFdReaddir |
		rightPathReadlink | rightPathRenameSource | rightPathRenameTarget | rightPathFilestatGet |
		rightPathFilestatSetSize | rightPathFilestatSetTimes | rightFdFilestatGet | rightFdFilestatSetTimes |
		rightPathSymlink | rightPathRemoveDirectory | rightPathUnlinkFile
)

// fileEntry is an open file descriptor.
type fileEntry struct {
	// name is the guest path of a preopened directory, or the path passed to path_open.
	name string
	// hostPath is the path of a directory on the host, used to resolve path_open.
	hostPath string
	isDir    bool
	preopen  bool

	// Exactly one of below is set for a readable or writable entry.
	file   *os.File
	reader io.Reader
	writer io.Writer
}

func (f *fileEntry) rights() (base, inheriting uint64) {
	switch {
	case f.file == nil && !f.isDir:
		return stdioRights, 0
	case f.isDir:
		return dirRights, dirRights | fileRights
	default:
		return fileRights, 0
	}
}

// fileType returns the type of an entry without a stat call. Stdio is a character device only when it is a terminal.
func (f *fileEntry) fileType() uint8 {
	switch {
	case f.isDir:
		return fileTypeDirectory
	case f.reader != nil && isTerminal(f.reader), f.writer != nil && isTerminal(f.writer):
		return fileTypeCharacterDevice
	default:
		return fileTypeRegularFile
	}
}

// stat returns the host file information of an entry, or nil for stdio.
func (f *fileEntry) stat() (fs.FileInfo, error) {
	switch {
	case f.file != nil:
		return f.file.Stat()
	case f.isDir:
		return os.Stat(f.hostPath)
	default:
		return nil, nil
	}
}

func fileTypeOf(mode fs.FileMode) uint8 {
	switch {
	case mode.IsDir():
		return fileTypeDirectory
	case mode.IsRegular():
		return fileTypeRegularFile
	case mode&fs.ModeSymlink != 0:
		return fileTypeSymbolicLink
	case mode&fs.ModeCharDevice != 0:
		return fileTypeCharacterDevice
	case mode&fs.ModeDevice != 0:
		return fileTypeBlockDevice
	case mode&fs.ModeSocket != 0:
		return fileTypeSocketStream
	default:
		return fileTypeUnknown
	}
}

// filestat encodes the 64-byte filestat of a file: dev, ino, filetype, nlink, size, atim, mtim and ctim, each in
// eight bytes. Device and inode numbers are not portable, so they are zero. All timestamps are the modification
// time.
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-filestat-struct
func filestat(fileType uint8, st fs.FileInfo) []byte {
	buf := make([]byte, 64)
	buf[16] = fileType
	binary.LittleEndian.PutUint64(buf[24:], 1)
	if st != nil {
		binary.LittleEndian.PutUint64(buf[32:], uint64(st.Size()))
		mtim := uint64(st.ModTime().UnixNano())
		binary.LittleEndian.PutUint64(buf[40:], mtim)
		binary.LittleEndian.PutUint64(buf[48:], mtim)
		binary.LittleEndian.PutUint64(buf[56:], mtim)
	}
	return buf
}

// fdTable maps file descriptors to their entries. New descriptors take the lowest free number.
type fdTable struct {
	mux     sync.Mutex
	entries map[uint32]*fileEntry
}

func newFDTable(stdin io.Reader, stdout, stderr io.Writer) *fdTable {
	return &fdTable{entries: map[uint32]*fileEntry{
		fdStdin:  {name: "/dev/stdin", reader: stdin},
		fdStdout: {name: "/dev/stdout", writer: stdout},
		fdStderr: {name: "/dev/stderr", writer: stderr},
	}}
}

func (t *fdTable) lookup(fd uint32) (*fileEntry, bool) {
	t.mux.Lock()
	defer t.mux.Unlock()
	f, ok := t.entries[fd]
	return f, ok
}

func (t *fdTable) insert(f *fileEntry) uint32 {
	t.mux.Lock()
	defer t.mux.Unlock()
	fd := uint32(fdStderr + 1)
	for ; ; fd++ {
		if _, ok := t.entries[fd]; !ok {
			break
		}
	}
	t.entries[fd] = f
	return fd
}

func (t *fdTable) remove(fd uint32) (*fileEntry, bool) {
	t.mux.Lock()
	defer t.mux.Unlock()
	f, ok := t.entries[fd]
	delete(t.entries, fd)
	return f, ok
}

// list returns the file descriptors in ascending order.
func (t *fdTable) list() []uint32 {
	t.mux.Lock()
	defer t.mux.Unlock()
	fds := make([]uint32, 0, len(t.entries))
	for fd := range t.entries {
		fds = append(fds, fd)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })
	return fds
}

// openPreopen parses a "guest:host" mapping, or a single path used for both, and checks the host directory exists.
func openPreopen(mapping string) (*fileEntry, error) {
	guest, host := mapping, mapping
	if i := strings.IndexByte(mapping, ':'); i >= 0 && !isWindowsVolume(mapping, i) {
		guest, host = mapping[:i], mapping[i+1:]
	}
	if guest == "" || host == "" {
		return nil, fmt.Errorf("wasi: invalid preopen %q", mapping)
	}

	st, err := os.Stat(host)
	if err != nil {
		return nil, fmt.Errorf("wasi: preopen %q: %w", mapping, err)
	} else if !st.IsDir() {
		return nil, fmt.Errorf("wasi: preopen %q: %s is not a directory", mapping, host)
	}
	return &fileEntry{name: guest, hostPath: host, isDir: true, preopen: true}, nil
}

// isWindowsVolume returns true when the colon at i ends a drive letter, ex. "C:\dir".
func isWindowsVolume(mapping string, i int) bool {
	return runtime.GOOS == "windows" && i == 1 && len(mapping) > 2 && (mapping[2] == '\\' || mapping[2] == '/')
}

// resolvePath returns the host path of a guest path relative to the directory dir. Absolute paths and paths which
// escape the directory with ".." are not capable.
func resolvePath(dir *fileEntry, guestPath string) (string, Errno) {
	if !dir.isDir {
		return "", ErrnoNotdir
	}
	p := path.Clean(guestPath)
	if !fs.ValidPath(p) || runtime.GOOS == "windows" && strings.ContainsAny(p, `\:`) {
		return "", ErrnoNotcapable
	}
	return filepath.Join(dir.hostPath, filepath.FromSlash(p)), ErrnoSuccess
}

// posixOpenFlags converts WASI open flags and rights to the flags of os.OpenFile.
func posixOpenFlags(oflags uint32, rights uint64, fdflags uint32) (flag int) {
	switch {
	case oflags&oflagDirectory != 0:
		return os.O_RDONLY
	case rights&rightFdWrite != 0 && rights&rightFdRead != 0:
		flag = os.O_RDWR
	case rights&rightFdWrite != 0:
		flag = os.O_WRONLY
	default:
		flag = os.O_RDONLY
	}
	if oflags&oflagCreat != 0 {
		flag |= os.O_CREATE
	}
	if oflags&oflagExcl != 0 {
		flag |= os.O_EXCL
	}
	if oflags&oflagTrunc != 0 {
		flag |= os.O_TRUNC
	}
	if fdflags&fdflagAppend != 0 {
		flag |= os.O_APPEND
	}
	return
}

// openFile opens a path relative to the directory dir, returning an entry not yet in the table.
func openFile(dir *fileEntry, guestPath string, oflags uint32, rights uint64, fdflags uint32) (*fileEntry, Errno) {
	hostPath, errno := resolvePath(dir, guestPath)
	if errno != ErrnoSuccess {
		return nil, errno
	}

	f, err := os.OpenFile(hostPath, posixOpenFlags(oflags, rights, fdflags), 0o644)
	if err != nil {
		return nil, toErrno(err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, toErrno(err)
	}
	if oflags&oflagDirectory != 0 && !st.IsDir() {
		_ = f.Close()
		return nil, ErrnoNotdir
	}
	return &fileEntry{name: guestPath, hostPath: hostPath, isDir: st.IsDir(), file: f}, ErrnoSuccess
}

// statPath returns the file information of a path relative to the directory dir. A trailing symbolic link is only
// followed when followSymlink is set.
func statPath(dir *fileEntry, guestPath string, followSymlink bool) (fs.FileInfo, Errno) {
	hostPath, errno := resolvePath(dir, guestPath)
	if errno != ErrnoSuccess {
		return nil, errno
	}
	stat := os.Lstat
	if followSymlink {
		stat = os.Stat
	}
	st, err := stat(hostPath)
	if err != nil {
		return nil, toErrno(err)
	}
	return st, ErrnoSuccess
}
