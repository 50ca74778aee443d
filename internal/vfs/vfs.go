// Package vfs defines the kernel's virtual filesystem contract: the
// minimal File interface every backend implements, and a refcounted
// OpenFile wrapper shared by every file descriptor that points at the same
// open file, so close-on-last-reference and dup semantics work correctly
// across an fd table shared by fork and dup.
//
// It is adapted from fd/fd.go (Fd_t, Copyfd, Cwd_t) and the
// fdops.Fdops_i interface as.go's Vmadd_file/Vmadd_sharefile mmap paths
// depend on.
package vfs

import (
	"sync/atomic"
	"time"

	"github.com/mentos32/kernel/internal/errno"
)

// FileMode mirrors the handful of stat.Mode bits this kernel cares about.
type FileMode uint32

const (
	ModeRegular FileMode = 1 << iota
	ModeDir
	ModeExecOwner // owner execute bit
	ModeExecGroup // group execute bit
	ModeExecOther // other execute bit
	ModeSetUID    // set-uid: exec assumes the file owner's effective uid
	ModeSetGID    // set-gid: exec assumes the file's owning gid as effective gid

	// ModeExecAll is any of owner/group/other execute bits, the
	// world-executable shorthand a loader that ignores ownership (like
	// memfs's host-file staging) reaches for.
	ModeExecAll = ModeExecOwner | ModeExecGroup | ModeExecOther
)

// Stat is the subset of POSIX stat(2) fields the design's loader and VFS
// contract need.
type Stat struct {
	Size     int64
	Mode     FileMode
	Mtime    time.Time
	Uid, Gid int // owning uid/gid, checked against a caller's Credentials
}

// Credentials is the minimal identity a permission check needs from a
// caller. vfs cannot import proc (proc already imports vfs), so proc.Task
// passes its Uid/Gid through this small value type rather than itself.
type Credentials struct {
	Uid, Gid int
}

// File is the contract a VFS backend implements for a single opened file.
// It mirrors fdops.Fdops_i, trimmed to what exec's loader
// and mmap's file-backed VMAs require (the "open-file objects").
type File interface {
	// Read reads len(p) bytes starting at off, POSIX pread semantics: it
	// never changes the file's (non-existent, in this interface) cursor.
	Read(p []byte, off int64) (int, errno.Errno)
	// Stat returns the file's metadata.
	Stat() (Stat, errno.Errno)
	// Close releases backend-specific resources. A File wrapped in an
	// OpenFile is closed once, when the refcount reaches zero; exec's
	// loader also closes the Files it opens directly.
	Close() errno.Errno
}

// ValidExecPermission reports whether cred may exec f, the loader
// precondition: the file must be a regular file, and the execute bit that
// applies to cred (owner/group/other, checked in that order) must be set.
// It also returns f's Stat so the caller can apply set-uid/set-gid without
// a second Stat call.
func ValidExecPermission(cred Credentials, f File) (bool, Stat, errno.Errno) {
	st, err := f.Stat()
	if !err.Ok() {
		return false, st, err
	}
	if st.Mode&ModeRegular == 0 {
		return false, st, 0
	}
	switch {
	case cred.Uid == st.Uid:
		return st.Mode&ModeExecOwner != 0, st, 0
	case cred.Gid == st.Gid:
		return st.Mode&ModeExecGroup != 0, st, 0
	default:
		return st.Mode&ModeExecOther != 0, st, 0
	}
}

// OpenFile is a reference-counted handle on an open File, shared by every
// fd (across fork, across dup) that refers to the same open-file
// description, mirroring fd.Fd_t plus its Copyfd refcount
// bump and Close_panic teardown.
type OpenFile struct {
	f   File
	ref int32
}

// Open wraps f in a fresh OpenFile with a reference count of 1.
func Open(f File) *OpenFile {
	return &OpenFile{f: f, ref: 1}
}

// Dup increments the reference count and returns the same OpenFile,
// mirroring fd.Copyfd's effect on the underlying file object.
func (o *OpenFile) Dup() *OpenFile {
	atomic.AddInt32(&o.ref, 1)
	return o
}

// Read reads through to the underlying File.
func (o *OpenFile) Read(p []byte, off int64) (int, errno.Errno) { return o.f.Read(p, off) }

// Stat reads through to the underlying File.
func (o *OpenFile) Stat() (Stat, errno.Errno) { return o.f.Stat() }

// Close decrements the reference count, closing the underlying File once
// it reaches zero. It is safe to call once per fd that holds this
// OpenFile (fork's fd-table clone must call Dup, not share the pointer
// without incrementing the count, or this underflows).
func (o *OpenFile) Close() errno.Errno {
	if atomic.AddInt32(&o.ref, -1) == 0 {
		return o.f.Close()
	}
	return 0
}

// RefCount reports the current reference count, for tests and diagnostics.
func (o *OpenFile) RefCount() int32 { return atomic.LoadInt32(&o.ref) }
