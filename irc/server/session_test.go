package server

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presbrey/ircd/irc/netpoll"
)

type recordingNotifier struct {
	calls []int
}

func (n *recordingNotifier) WantWrite(id int) {
	n.calls = append(n.calls, id)
}

// chokedWriter accepts at most max bytes per call, then blocks once.
type chokedWriter struct {
	buf     bytes.Buffer
	max     int
	blocked bool
}

func (w *chokedWriter) Write(p []byte) (int, error) {
	if w.blocked {
		w.blocked = false
		return 0, netpoll.ErrWouldBlock
	}
	w.blocked = true
	if len(p) > w.max {
		p = p[:w.max]
	}
	return w.buf.Write(p)
}

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestSessionLines(t *testing.T) {
	s := NewSession(7, "127.0.0.1", nil, time.Now())

	s.AppendToBuffer([]byte("NICK ali"))
	assert.False(t, s.HasCompleteLine())
	_, ok := s.NextLine()
	assert.False(t, ok)

	s.AppendToBuffer([]byte("ce\r\nUSER a 0 * :A\n"))
	assert.True(t, s.HasCompleteLine())

	line, ok := s.NextLine()
	require.True(t, ok)
	assert.Equal(t, "NICK alice", line)

	line, ok = s.NextLine()
	require.True(t, ok)
	assert.Equal(t, "USER a 0 * :A", line)

	_, ok = s.NextLine()
	assert.False(t, ok)
	assert.Zero(t, s.BufferLen())
}

func TestSessionEnqueueNotifiesOnce(t *testing.T) {
	n := &recordingNotifier{}
	s := NewSession(7, "127.0.0.1", n, time.Now())

	s.Enqueue("PING :a")
	s.Enqueue("PING :b\r\n")
	assert.Equal(t, []int{7}, n.calls)
	assert.Equal(t, []string{"PING :a\r\n", "PING :b\r\n"}, s.Queued())

	var buf bytes.Buffer
	sent, err := s.Drain(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.False(t, s.Pending())

	s.Enqueue("PING :c")
	assert.Equal(t, []int{7, 7}, n.calls)
}

func TestSessionDrainResumesPartialWrites(t *testing.T) {
	s := NewSession(7, "127.0.0.1", nil, time.Now())
	s.Enqueue("PRIVMSG #go :hello")
	s.Enqueue("PING :x")

	w := &chokedWriter{max: 5}
	for i := 0; s.Pending(); i++ {
		require.Less(t, i, 100)
		_, err := s.Drain(w)
		require.NoError(t, err)
	}

	assert.Equal(t, "PRIVMSG #go :hello\r\nPING :x\r\n", w.buf.String())
}

func TestSessionDrainPartialHead(t *testing.T) {
	s := NewSession(7, "127.0.0.1", nil, time.Now())
	s.Enqueue("ABCDEFGH")

	w := &chokedWriter{max: 3}
	sent, err := s.Drain(w)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, []string{"DEFGH\r\n"}, s.Queued())
}

func TestSessionDrainError(t *testing.T) {
	s := NewSession(7, "127.0.0.1", nil, time.Now())
	s.Enqueue("PING :x")

	_, err := s.Drain(brokenWriter{})
	assert.EqualError(t, err, "broken pipe")
	assert.True(t, s.Pending())
}

func TestSessionIdentity(t *testing.T) {
	s := NewSession(7, "10.1.2.3", nil, time.Now())
	assert.Equal(t, "*", s.Target())

	s.Nickname = "bob"
	s.Username = "rob"
	assert.Equal(t, "bob", s.Target())
	assert.Equal(t, "bob!rob@10.1.2.3", s.FullName())

	assert.False(t, s.IsRegistered())
	s.Registration = Registration{Pass: true, Nick: true, User: true}
	assert.True(t, s.IsRegistered())
}

func TestSessionChannels(t *testing.T) {
	s := NewSession(7, "127.0.0.1", nil, time.Now())

	s.JoinChannel("#go")
	s.JoinChannel("#go")
	assert.True(t, s.InChannel("#go"))
	assert.Equal(t, []string{"#go"}, s.Channels())

	s.PartChannel("#go")
	s.PartChannel("#go")
	assert.False(t, s.InChannel("#go"))
	assert.Empty(t, s.Channels())
}

func TestSessionClosedDropsOutput(t *testing.T) {
	s := NewSession(7, "127.0.0.1", nil, time.Now())
	s.closed = true
	s.Enqueue("PING :x")
	assert.False(t, s.Pending())
}
