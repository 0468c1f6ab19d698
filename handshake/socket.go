// File: handshake/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package handshake

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// bindListen creates a non-blocking Unix stream socket bound and listening
// at path. Any pre-existing socket file at path is removed first, matching
// the listener's ownership of the rendezvous point.
func bindListen(path string) (int, error) {
	_ = os.Remove(path)
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("handshake: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("handshake: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("handshake: listen %s: %w", path, err)
	}
	return fd, nil
}

// tryAccept attempts a non-blocking accept. ok=false with nil err means
// "not ready yet, try again after the next poll readiness".
func tryAccept(listenFd int) (fd int, ok bool, err error) {
	fd, _, err = unix.Accept4(listenFd, unix.SOCK_NONBLOCK)
	if err == nil {
		return fd, true, nil
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return -1, false, nil
	}
	return -1, false, fmt.Errorf("handshake: accept: %w", err)
}

// startConnect begins a non-blocking connect to path. ok=true means the
// connection completed synchronously; ok=false with nil err means the
// connect is in progress and readiness must be polled for writability.
func startConnect(path string) (fd int, ok bool, err error) {
	fd, err = unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, false, fmt.Errorf("handshake: socket: %w", err)
	}
	err = unix.Connect(fd, &unix.SockaddrUnix{Name: path})
	if err == nil {
		return fd, true, nil
	}
	if err == unix.EINPROGRESS {
		return fd, false, nil
	}
	unix.Close(fd)
	return -1, false, fmt.Errorf("handshake: connect %s: %w", path, err)
}

// connectCompleted checks SO_ERROR on a socket whose connect() was
// EINPROGRESS, once poll reports it writable.
func connectCompleted(fd int) (ok bool, err error) {
	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return false, fmt.Errorf("handshake: getsockopt SO_ERROR: %w", err)
	}
	if soErr != 0 {
		return false, fmt.Errorf("handshake: connect failed: %w", unix.Errno(soErr))
	}
	return true, nil
}

// sendAll attempts to flush buf[sent:] non-blocking, with an optional
// SCM_RIGHTS control message attached (fdToSend >= 0) on the very first
// byte written. Returns the new sent count and ok=true once the whole
// buffer has been flushed.
func sendAll(fd int, buf []byte, sent int, fdToSend int) (newSent int, ok bool, err error) {
	for sent < len(buf) {
		var oob []byte
		if sent == 0 && fdToSend >= 0 {
			oob = unix.UnixRights(fdToSend)
		}
		n, _, werr := unix.SendmsgN(fd, buf[sent:], oob, nil, 0)
		if werr != nil {
			if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
				return sent, false, nil
			}
			return sent, false, fmt.Errorf("handshake: sendmsg: %w", werr)
		}
		if n == 0 {
			return sent, false, nil
		}
		sent += n
	}
	return sent, true, nil
}

// recvAll attempts to fill buf[filled:] non-blocking, capturing an
// SCM_RIGHTS file descriptor into *recvFd if one arrives. recvFd must
// point at -1 initially; it is set at most once.
func recvAll(fd int, buf []byte, filled int, recvFd *int) (newFilled int, ok bool, err error) {
	oob := make([]byte, unix.CmsgSpace(4))
	for filled < len(buf) {
		n, oobn, _, _, rerr := unix.Recvmsg(fd, buf[filled:], oob, 0)
		if rerr != nil {
			if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
				return filled, false, nil
			}
			return filled, false, fmt.Errorf("handshake: recvmsg: %w", rerr)
		}
		if n == 0 {
			return filled, false, fmt.Errorf("handshake: peer closed connection mid-intro")
		}
		if oobn > 0 && recvFd != nil && *recvFd < 0 {
			cmsgs, perr := unix.ParseSocketControlMessage(oob[:oobn])
			if perr == nil {
				for _, cmsg := range cmsgs {
					fds, ferr := unix.ParseUnixRights(&cmsg)
					if ferr == nil && len(fds) > 0 {
						*recvFd = fds[0]
						break
					}
				}
			}
		}
		filled += n
	}
	return filled, true, nil
}
