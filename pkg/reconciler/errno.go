package reconciler

import "syscall"

// POSIX-style error codes returned (negated) by the operation surface
// below. Using the standard library's syscall package gives the
// canonical errno values without inventing a parallel constant set;
// there is no in-pack FUSE binding to borrow these from, since the
// kernel filesystem binding itself is an external collaborator out of
// scope here.
const (
	ENOENT    = int(syscall.ENOENT)
	EEXIST    = int(syscall.EEXIST)
	EISDIR    = int(syscall.EISDIR)
	ENOTDIR   = int(syscall.ENOTDIR)
	ENOTEMPTY = int(syscall.ENOTEMPTY)
	EBADF     = int(syscall.EBADF)
	EIO       = int(syscall.EIO)
)
