package server

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/stretchr/testify/require"

	"github.com/presbrey/ircd/irc/config"
)

const testPassword = "secret"

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Name = "irc.test"
	cfg.Server.Network = "TestNet"
	cfg.Server.Password = testPassword
	cfg.Server.MOTD = []string{"hello"}
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(testConfig())
	require.NoError(t, err)
	return srv
}

// testClient drives a session in memory: input goes straight into the
// session buffer and output is drained into a bytes.Buffer.
type testClient struct {
	t    *testing.T
	srv  *Server
	sess *Session
}

var nextTestID = 1000

func connect(t *testing.T, srv *Server) *testClient {
	t.Helper()
	nextTestID++
	return &testClient{
		t:    t,
		srv:  srv,
		sess: srv.addSession(nextTestID, "10.0.0.1"),
	}
}

// register connects and completes registration, discarding the banner.
func register(t *testing.T, srv *Server, nick string) *testClient {
	t.Helper()
	c := connect(t, srv)
	c.send("PASS "+testPassword, "NICK "+nick, "USER "+nick+" 0 * :"+nick)
	require.True(t, c.sess.IsRegistered(), nick)
	c.lines()
	return c
}

func (c *testClient) send(lines ...string) {
	for _, line := range lines {
		c.sess.AppendToBuffer([]byte(line + "\r\n"))
	}
	c.srv.process(c.sess)
}

// lines drains and returns everything queued for the client.
func (c *testClient) lines() []string {
	var buf bytes.Buffer
	_, err := c.sess.Drain(&buf)
	require.NoError(c.t, err)

	out := strings.Split(buf.String(), "\r\n")
	if out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// messages drains the queue and parses every line with an independent parser.
func (c *testClient) messages() []ircmsg.Message {
	var msgs []ircmsg.Message
	for _, line := range c.lines() {
		msg, err := ircmsg.ParseLine(line)
		require.NoError(c.t, err, line)
		msgs = append(msgs, msg)
	}
	return msgs
}

func commands(msgs []ircmsg.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Command)
	}
	return out
}

func (c *testClient) gone() bool {
	return c.srv.Session(c.sess.ID) != c.sess
}

// clock is a controllable time source for idle policy tests.
type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
