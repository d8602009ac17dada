// Package netpoll is the readiness mechanism behind the IRC event loop: a
// level-triggered epoll instance plus the handful of non-blocking socket
// calls the loop needs (listen, accept, read, write, close).
//
// Sockets are plain file descriptors. Every call that would block returns
// ErrWouldBlock instead; the caller retries on the next readiness event.
package netpoll

import (
	"errors"
	"io"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when a non-blocking call has nothing to do yet.
	ErrWouldBlock = errors.New("netpoll: operation would block")

	// ErrClosed is returned when operating on a closed poller.
	ErrClosed = errors.New("netpoll: poller closed")
)

// Socket is a non-blocking socket file descriptor.
type Socket int

// Fd returns the raw descriptor.
func (s Socket) Fd() int {
	return int(s)
}

// Read reads at most len(p) bytes. A closed peer yields io.EOF.
func (s Socket) Read(p []byte) (int, error) {
	n, err := unix.Read(int(s), p)
	if err != nil {
		if isTemporary(err) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes as much of p as the kernel accepts without blocking.
func (s Socket) Write(p []byte) (int, error) {
	n, err := unix.Write(int(s), p)
	if n < 0 {
		n = 0
	}
	if err != nil {
		if isTemporary(err) {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

// Close closes the descriptor.
func (s Socket) Close() error {
	return unix.Close(int(s))
}

// Listen opens a non-blocking TCP listening socket on host:port. An empty
// host binds every IPv4 address.
func Listen(host string, port int) (Socket, error) {
	family, sa, err := sockaddr(host, port)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, &net.OpError{Op: "socket", Net: "tcp", Err: err}
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, &net.OpError{Op: "setsockopt", Net: "tcp", Err: err}
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, &net.OpError{Op: "bind", Net: "tcp", Err: err}
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, &net.OpError{Op: "listen", Net: "tcp", Err: err}
	}

	return Socket(fd), nil
}

// Accept accepts one pending connection as a non-blocking socket and
// returns it with the peer's IP address.
func Accept(listener Socket) (Socket, string, error) {
	fd, sa, err := unix.Accept4(int(listener), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if isTemporary(err) || err == unix.ECONNABORTED {
			return -1, "", ErrWouldBlock
		}
		return -1, "", err
	}
	return Socket(fd), peerIP(sa), nil
}

// LocalAddr returns the address a socket is bound to.
func LocalAddr(s Socket) (string, error) {
	sa, err := unix.Getsockname(int(s))
	if err != nil {
		return "", err
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port)), nil
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port)), nil
	}
	return "", errors.New("netpoll: unsupported socket address")
}

func sockaddr(host string, port int) (int, unix.Sockaddr, error) {
	if host == "" {
		return unix.AF_INET, &unix.SockaddrInet4{Port: port}, nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return 0, nil, &net.AddrError{Err: "invalid IP address", Addr: host}
	}

	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa, nil
	}

	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return unix.AF_INET6, sa, nil
}

func peerIP(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(sa.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(sa.Addr[:]).String()
	}
	return "unknown"
}

func isTemporary(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}
