// Package memfs is a minimal in-memory vfs.File backend, sufficient to run
// end-to-end scenarios (fork/exec/wait, a shebang script, an mmap'd file)
// without a real disk driver. It is grounded in the same in-memory-tree
// idea as devfs-style pseudo filesystems, adapted to implement vfs.File
// directly rather than a whole superblock.
package memfs

import (
	"sync"
	"time"

	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/vfs"
)

// FS is a flat, path-keyed in-memory filesystem. Paths are opaque keys
// (typically absolute, slash-separated) and are never interpreted for
// directory structure; memfs exists to back exec/mmap scenarios, not to
// exercise the directory-traversal parts of the VFS contract.
type FS struct {
	mu    sync.RWMutex
	files map[string]*entry
}

type entry struct {
	data     []byte
	mode     vfs.FileMode
	mtime    time.Time
	uid, gid int
}

// New returns an empty filesystem.
func New() *FS {
	return &FS{files: make(map[string]*entry)}
}

// WriteFile creates or replaces the file at path with the given content,
// mode bits, and owning uid/gid, the way a test harness would seed memfs
// before exec'ing a scenario binary.
func (fs *FS) WriteFile(path string, data []byte, mode vfs.FileMode, uid, gid int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	fs.files[path] = &entry{data: cp, mode: mode, mtime: time.Now(), uid: uid, gid: gid}
}

// Open returns a vfs.File for path, or ENOENT if it doesn't exist.
func (fs *FS) Open(path string) (vfs.File, errno.Errno) {
	fs.mu.RLock()
	e, ok := fs.files[path]
	fs.mu.RUnlock()
	if !ok {
		return nil, errno.ENOENT
	}
	return &file{fs: fs, path: path, e: e}, 0
}

type file struct {
	fs   *FS
	path string
	e    *entry
}

func (f *file) Read(p []byte, off int64) (int, errno.Errno) {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	if off < 0 {
		return 0, errno.EINVAL
	}
	if off >= int64(len(f.e.data)) {
		return 0, 0
	}
	n := copy(p, f.e.data[off:])
	return n, 0
}

func (f *file) Stat() (vfs.Stat, errno.Errno) {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return vfs.Stat{
		Size:  int64(len(f.e.data)),
		Mode:  f.e.mode,
		Mtime: f.e.mtime,
		Uid:   f.e.uid,
		Gid:   f.e.gid,
	}, 0
}

func (f *file) Close() errno.Errno { return 0 }
