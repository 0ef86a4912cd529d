//go:build linux
// +build linux

package yozora

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// maxFDsPerMessage mirrors the limit libwayland puts on a single sendmsg.
const maxFDsPerMessage = 28

// fdQueue holds file descriptors received on one connection, in arrival
// order. Requests carrying fd arguments take them from the front.
type fdQueue struct {
	items []int
	head  int
}

// enqueue adds received file descriptors
func (q *fdQueue) enqueue(fds ...int) {
	if q.head > 0 && q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	q.items = append(q.items, fds...)
}

// dequeue removes and returns the oldest file descriptor
func (q *fdQueue) dequeue() (int, bool) {
	if q.head >= len(q.items) {
		return -1, false
	}
	fd := q.items[q.head]
	q.head++
	return fd, true
}

// Len returns the number of queued descriptors
func (q *fdQueue) Len() int {
	return len(q.items) - q.head
}

// closeAll closes every descriptor still queued
func (q *fdQueue) closeAll() {
	for fd, ok := q.dequeue(); ok; fd, ok = q.dequeue() {
		_ = unix.Close(fd)
	}
	q.items = q.items[:0]
	q.head = 0
}

// recvmsgWithFDs receives whatever is available on a non-blocking socket.
// It returns errClientGone when the peer hung up and
// (0, nil, nil) when nothing is pending.
func recvmsgWithFDs(fd int, buf []byte) (n int, fds []int, err error) {
	oob := make([]byte, unix.CmsgSpace(maxFDsPerMessage*4))

	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil, nil
		}
		if err == unix.ECONNRESET {
			return 0, nil, errClientGone
		}
		return 0, nil, errors.Wrap(err, "recvmsg")
	}

	// Parse control messages if any
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return n, nil, errors.Wrap(err, "parse control message")
		}

		for i := range scms {
			if scms[i].Header.Level != unix.SOL_SOCKET || scms[i].Header.Type != unix.SCM_RIGHTS {
				continue
			}
			parsedFDs, err := unix.ParseUnixRights(&scms[i])
			if err != nil {
				return n, fds, errors.Wrap(err, "parse unix rights")
			}
			fds = append(fds, parsedFDs...)
		}
	}

	if n == 0 && len(fds) == 0 {
		return 0, nil, errClientGone
	}
	return n, fds, nil
}

// sendmsgWithFDs writes as much of buf as the socket accepts without
// blocking. fds ride along with the first byte written.
func sendmsgWithFDs(fd int, buf []byte, fds []int) (int, error) {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	n, err := unix.SendmsgN(fd, buf, oob, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil
		}
		if err == unix.EPIPE || err == unix.ECONNRESET {
			return 0, errClientGone
		}
		return 0, errors.Wrap(err, "sendmsg")
	}
	return n, nil
}

// listener is the bound, non-blocking server socket plus its lock file.
type listener struct {
	fd       int
	path     string
	lockPath string
	lockFD   int
}

// listenUnix binds path the way libwayland does: take an exclusive lock on
// path.lock, remove a stale socket left by a dead server, then bind.
func listenUnix(path string) (*listener, error) {
	lockPath := path + ".lock"
	lockFD, err := unix.Open(lockPath, unix.O_CREAT|unix.O_CLOEXEC|unix.O_RDWR, 0660)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock file %s", lockPath)
	}
	if err := unix.Flock(lockFD, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = unix.Close(lockFD)
		return nil, errors.Wrapf(ErrAddressInUse, "lock %s: %v", lockPath, err)
	}

	// We hold the lock, so any socket file is stale.
	if err := unix.Unlink(path); err != nil && err != unix.ENOENT {
		_ = unix.Close(lockFD)
		return nil, errors.Wrapf(err, "remove stale socket %s", path)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		_ = unix.Close(lockFD)
		return nil, errors.Wrap(err, "socket")
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(lockFD)
		if err == unix.EADDRINUSE {
			return nil, errors.Wrapf(ErrAddressInUse, "bind %s", path)
		}
		return nil, errors.Wrapf(err, "bind %s", path)
	}
	if err := unix.Listen(fd, 128); err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(lockFD)
		_ = unix.Unlink(path)
		return nil, errors.Wrapf(err, "listen %s", path)
	}

	return &listener{fd: fd, path: path, lockPath: lockPath, lockFD: lockFD}, nil
}

// accept returns a pending connection or -1 when none is waiting.
func (l *listener) accept() (int, error) {
	for {
		fd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			return fd, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN, unix.ECONNABORTED:
			return -1, nil
		default:
			return -1, errors.Wrap(err, "accept")
		}
	}
}

// Close closes the socket and removes the socket and lock files
func (l *listener) Close() error {
	err := unix.Close(l.fd)
	_ = unix.Unlink(l.path)
	_ = unix.Unlink(l.lockPath)
	_ = unix.Close(l.lockFD)
	return err
}

// pollReadable waits until one of fds is readable or the timeout expires.
func pollReadable(fds []int, timeoutMs int) error {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	_, err := unix.Poll(pfds, timeoutMs)
	if err != nil && err != unix.EINTR {
		return errors.Wrap(err, "poll")
	}
	return nil
}

// fdSize returns the size of the object behind fd, or -1 when it cannot
// be determined (some dmabuf exporters do not support seeking).
func fdSize(fd int) int64 {
	size, err := unix.Seek(fd, 0, unix.SEEK_END)
	if err != nil {
		return -1
	}
	_, _ = unix.Seek(fd, 0, unix.SEEK_SET)
	return size
}

// CreateAnonymousFile creates an anonymous file for shared memory
func CreateAnonymousFile(size int64) (fd int, err error) {
	// Try memfd_create first (Linux 3.17+)
	fd, err = unix.MemfdCreate("yozora-shm", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err == nil {
		if err = unix.Ftruncate(fd, size); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}

		// Add seals to prevent resizing
		_, err = unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS,
			unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_SEAL)
		if err != nil {
			_ = unix.Close(fd)
			return -1, err
		}

		return fd, nil
	}

	// Fallback to O_TMPFILE if available
	fd, err = unix.Open("/dev/shm", unix.O_TMPFILE|unix.O_RDWR|unix.O_CLOEXEC, 0600)
	if err == nil {
		if err = unix.Ftruncate(fd, size); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		return fd, nil
	}

	// Final fallback: create temp file and unlink
	name := fmt.Sprintf("/dev/shm/yozora-%d", os.Getpid())
	fd, err = unix.Open(name, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0600)
	if err != nil {
		return -1, err
	}

	// Unlink immediately
	_ = unix.Unlink(name)

	if err = unix.Ftruncate(fd, size); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

// MapMemory maps a client supplied file descriptor read-only
func MapMemory(fd int, size int) ([]byte, error) {
	return unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
}

// UnmapMemory unmaps memory
func UnmapMemory(data []byte) error {
	return unix.Munmap(data)
}

// DeviceFromPath returns the device number of a DRM node such as
// /dev/dri/renderD128.
func DeviceFromPath(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, errors.Wrapf(err, "stat %s", path)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return 0, errors.Wrapf(ErrNotCharDevice, "%s", path)
	}
	return uint64(st.Rdev), nil
}
