package server

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/presbrey/ircd/irc"
	"github.com/presbrey/ircd/irc/netpoll"
)

const (
	// ReadChunk bounds a single read from a client socket.
	ReadChunk = 512

	// MaxBuffer bounds the unterminated input kept for one client.
	MaxBuffer = 8192
)

// Notifier is told when a session's outbound queue becomes non-empty.
type Notifier interface {
	WantWrite(id int)
}

// Registration tracks which of the three registration steps are done.
type Registration struct {
	Pass bool
	Nick bool
	User bool
}

// Complete reports whether PASS, NICK and USER have all been accepted.
func (r Registration) Complete() bool {
	return r.Pass && r.Nick && r.User
}

// Session is the server-side state of one connected client. Its ID is the
// socket descriptor and is unique among live sessions.
type Session struct {
	ID       int
	IP       string
	Nickname string
	Username string
	Realname string

	Registration Registration

	// welcomed is set once the welcome banner has gone out
	welcomed bool

	inbuf  []byte
	outq   [][]byte
	offset int

	channels map[string]struct{}

	Connected time.Time
	LastSeen  time.Time
	pingSent  bool

	writeArmed bool
	closed     bool

	notifier Notifier
}

// NewSession creates a session for a freshly accepted socket.
func NewSession(id int, ip string, notifier Notifier, now time.Time) *Session {
	return &Session{
		ID:        id,
		IP:        ip,
		channels:  make(map[string]struct{}),
		Connected: now,
		LastSeen:  now,
		notifier:  notifier,
	}
}

// IsRegistered reports whether the client completed registration.
func (s *Session) IsRegistered() bool {
	return s.Registration.Complete()
}

// FullName returns the nick!user@host identity used as a message prefix.
func (s *Session) FullName() string {
	return irc.FormatHostmask(s.Nickname, s.Username, s.IP)
}

// Target returns the nickname, or "*" before one is set.
func (s *Session) Target() string {
	if s.Nickname == "" {
		return "*"
	}
	return s.Nickname
}

// AppendToBuffer appends freshly read bytes to the input buffer.
func (s *Session) AppendToBuffer(data []byte) {
	s.inbuf = append(s.inbuf, data...)
}

// HasCompleteLine reports whether the input buffer holds a full line.
func (s *Session) HasCompleteLine() bool {
	_, _, ok := irc.SplitLine(s.inbuf)
	return ok
}

// NextLine removes and returns the next complete line, without its
// terminator.
func (s *Session) NextLine() (string, bool) {
	line, n, ok := irc.SplitLine(s.inbuf)
	if !ok {
		return "", false
	}
	out := string(line)
	s.inbuf = s.inbuf[n:]
	if len(s.inbuf) == 0 {
		s.inbuf = nil
	}
	return out, true
}

// BufferLen returns the number of buffered, unprocessed input bytes.
func (s *Session) BufferLen() int {
	return len(s.inbuf)
}

// ResetBuffer discards all buffered input.
func (s *Session) ResetBuffer() {
	s.inbuf = nil
}

// Enqueue queues one message for delivery, appending CRLF when missing.
func (s *Session) Enqueue(line string) {
	if s.closed {
		return
	}
	if !strings.HasSuffix(line, "\r\n") {
		line += "\r\n"
	}

	wasEmpty := len(s.outq) == 0
	s.outq = append(s.outq, []byte(line))

	if wasEmpty && s.notifier != nil {
		s.notifier.WantWrite(s.ID)
	}
}

// Pending reports whether queued output remains.
func (s *Session) Pending() bool {
	return len(s.outq) > 0
}

// Queued returns the undelivered messages, the head without its sent part.
func (s *Session) Queued() []string {
	out := make([]string, 0, len(s.outq))
	for i, msg := range s.outq {
		if i == 0 {
			msg = msg[s.offset:]
		}
		out = append(out, string(msg))
	}
	return out
}

// Drain writes queued messages to w until the queue is empty or w would
// block. Partially written messages resume at the same offset next time.
// It returns the number of messages fully delivered.
func (s *Session) Drain(w io.Writer) (int, error) {
	sent := 0
	for len(s.outq) > 0 {
		head := s.outq[0]

		n, err := w.Write(head[s.offset:])
		if n > 0 {
			s.offset += n
		}

		if s.offset >= len(head) {
			s.outq[0] = nil
			s.outq = s.outq[1:]
			s.offset = 0
			sent++
		}

		if err != nil {
			if errors.Is(err, netpoll.ErrWouldBlock) {
				return sent, nil
			}
			return sent, err
		}

		if n == 0 && s.offset < len(head) {
			return sent, nil
		}
	}
	s.outq = nil
	return sent, nil
}

// Touch records inbound activity.
func (s *Session) Touch(now time.Time) {
	s.LastSeen = now
	s.pingSent = false
}

// JoinChannel records membership of a channel.
func (s *Session) JoinChannel(name string) {
	s.channels[name] = struct{}{}
}

// PartChannel forgets membership of a channel.
func (s *Session) PartChannel(name string) {
	delete(s.channels, name)
}

// InChannel reports whether the session is a member of the named channel.
func (s *Session) InChannel(name string) bool {
	_, ok := s.channels[name]
	return ok
}

// Channels returns the names of the channels the session is in.
func (s *Session) Channels() []string {
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	return names
}
