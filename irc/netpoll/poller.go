package netpoll

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Event reports the readiness of one socket.
type Event struct {
	Socket   Socket
	Readable bool
	Writable bool
	HangUp   bool
}

// Poller is a level-triggered epoll instance.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
	ready  []Event
}

// NewPoller creates an epoll instance that reports up to maxEvents per Wait.
func NewPoller(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	return &Poller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
		ready:  make([]Event, 0, maxEvents),
	}, nil
}

func interest(write bool) uint32 {
	events := uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
	if write {
		events |= unix.EPOLLOUT
	}
	return events
}

// Add registers s for read readiness, and write readiness when write is set.
func (p *Poller) Add(s Socket, write bool) error {
	if p.epfd < 0 {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: interest(write), Fd: int32(s)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, int(s), &ev); err != nil {
		return fmt.Errorf("epoll_ctl add %d: %w", s, err)
	}
	return nil
}

// Modify switches s between read-only and read-write interest.
func (p *Poller) Modify(s Socket, write bool) error {
	if p.epfd < 0 {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: interest(write), Fd: int32(s)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, int(s), &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod %d: %w", s, err)
	}
	return nil
}

// Remove deregisters s.
func (p *Poller) Remove(s Socket) error {
	if p.epfd < 0 {
		return ErrClosed
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, int(s), nil); err != nil {
		return fmt.Errorf("epoll_ctl del %d: %w", s, err)
	}
	return nil
}

// Wait blocks up to timeout for readiness. The returned slice is reused by
// the next call. An interrupted wait returns no events and no error.
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) {
	if p.epfd < 0 {
		return nil, ErrClosed
	}

	n, err := unix.EpollWait(p.epfd, p.events, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}

	p.ready = p.ready[:0]
	for i := 0; i < n; i++ {
		ev := p.events[i]
		p.ready = append(p.ready, Event{
			Socket:   Socket(ev.Fd),
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			HangUp:   ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return p.ready, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	if p.epfd < 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}
