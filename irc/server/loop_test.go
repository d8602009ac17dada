package server

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/lrstanley/girc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presbrey/ircd/irc/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startServer runs a real server on a loopback port until the test ends or
// stop is called.
func startServer(t *testing.T, mutate func(*config.Config)) (srv *Server, addr string, stop func()) {
	t.Helper()

	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Limits.PollInterval = 10
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	addr = srv.Addr()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	stopped := false
	stop = func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	}
	t.Cleanup(stop)

	return srv, addr, stop
}

type ircConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *ircConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &ircConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *ircConn) send(lines ...string) {
	c.t.Helper()
	for _, line := range lines {
		_, err := c.conn.Write([]byte(line + "\r\n"))
		require.NoError(c.t, err)
	}
}

// expect reads lines until one contains substr.
func (c *ircConn) expect(substr string) string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		line, err := c.r.ReadString('\n')
		require.NoError(c.t, err, "waiting for %q", substr)
		line = strings.TrimRight(line, "\r\n")
		if strings.Contains(line, substr) {
			return line
		}
	}
}

func (c *ircConn) login(nick string) {
	c.t.Helper()
	c.send("PASS "+testPassword, "NICK "+nick, "USER "+nick+" 0 * :"+nick)
	c.expect(" 376 " + nick + " ")
}

func TestRunRequiresListen(t *testing.T) {
	srv := newTestServer(t)
	assert.ErrorIs(t, srv.Run(context.Background()), ErrNotListening)
}

func TestListenFailsOnBusyPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = l.Addr().(*net.TCPAddr).Port
	srv, err := New(cfg)
	require.NoError(t, err)

	assert.Error(t, srv.Listen())
}

func TestServeChat(t *testing.T) {
	_, addr, _ := startServer(t, nil)

	alice := dial(t, addr)
	bob := dial(t, addr)

	// A registration line split across two writes
	_, err := alice.conn.Write([]byte("PASS " + testPassword + "\r\nNICK ali"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	alice.send("ce", "USER alice 0 * :Alice")
	alice.expect(" 001 alice :Welcome to the TestNet IRC Network alice!alice@127.0.0.1")
	alice.expect(" 376 alice ")

	bob.login("bob")

	alice.send("JOIN #go")
	alice.expect(" 366 alice #go ")

	bob.send("JOIN #go")
	bob.expect(":irc.test 353 bob = #go :@alice bob")
	alice.expect(":bob!bob@127.0.0.1 JOIN #go")

	bob.send("PRIVMSG #go :hello over tcp")
	assert.Equal(t, ":bob!bob@127.0.0.1 PRIVMSG #go :hello over tcp", alice.expect("PRIVMSG"))

	alice.send("QUIT :bye")
	alice.expect("ERROR :Closing Link: 127.0.0.1 (Quit: bye)")
	bob.expect(":alice!alice@127.0.0.1 QUIT :Quit: bye")
	bob.expect(":irc.test MODE #go +o bob")
}

func TestServeDroppedConnection(t *testing.T) {
	srv, addr, _ := startServer(t, nil)

	alice := dial(t, addr)
	bob := dial(t, addr)
	alice.login("alice")
	bob.login("bob")

	alice.send("JOIN #go")
	alice.expect(" 366 ")
	bob.send("JOIN #go")
	bob.expect(" 366 ")

	require.NoError(t, alice.conn.Close())
	bob.expect(":alice!alice@127.0.0.1 QUIT :Connection closed")

	st, err := srv.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Connections)
	assert.Equal(t, map[string]int{"#go": 1}, st.Members)
}

func TestServeLargeBurst(t *testing.T) {
	_, addr, _ := startServer(t, nil)

	alice := dial(t, addr)
	bob := dial(t, addr)
	alice.login("alice")
	bob.login("bob")

	// Far more output than one write can take while bob is not reading
	const n = 2000
	text := strings.Repeat("x", 400)
	for i := 0; i < n; i++ {
		alice.send("PRIVMSG bob :" + strconv.Itoa(i) + " " + text)
	}
	alice.send("PRIVMSG bob :done")

	for i := 0; i < n; i++ {
		line := bob.expect("PRIVMSG bob :")
		require.Contains(t, line, ":"+strconv.Itoa(i)+" ")
	}
	bob.expect("PRIVMSG bob :done")
}

func TestServeRelayAndShutdown(t *testing.T) {
	srv, addr, stop := startServer(t, nil)

	alice := dial(t, addr)
	alice.login("alice")
	alice.send("JOIN #ops")
	alice.expect(" 366 ")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, srv.Relay(ctx, "#ops", "deploy starting"))
	alice.expect(":irc.test NOTICE #ops :deploy starting")

	assert.ErrorIs(t, srv.Relay(ctx, "#nowhere", "x"), ErrNoSuchChannel)

	stop()
	alice.expect("ERROR :Server shutting down")

	_, err := alice.r.ReadString('\n')
	assert.Error(t, err)
}

func TestServeRegistrationTimeout(t *testing.T) {
	_, addr, _ := startServer(t, func(cfg *config.Config) {
		cfg.Limits.RegistrationTimeout = 1
	})

	c := dial(t, addr)
	c.send("NICK slow")
	c.expect("ERROR :Closing Link: 127.0.0.1 (Registration timeout)")
}

func TestServeGircClient(t *testing.T) {
	_, addr, _ := startServer(t, nil)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client := girc.New(girc.Config{
		Server:     host,
		Port:       port,
		Nick:       "gopher",
		User:       "gopher",
		Name:       "Go Gopher",
		ServerPass: testPassword,
	})

	joined := make(chan string, 1)
	client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, e girc.Event) {
		c.Cmd.Join("#girc")
	})
	client.Handlers.Add(girc.JOIN, func(c *girc.Client, e girc.Event) {
		if e.Source != nil && e.Source.Name == "gopher" {
			select {
			case joined <- e.Params[0]:
			default:
			}
		}
	})

	connErr := make(chan error, 1)
	go func() {
		connErr <- client.Connect()
	}()

	select {
	case name := <-joined:
		assert.Equal(t, "#girc", name)
	case err := <-connErr:
		t.Fatalf("client stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("girc client did not join")
	}

	client.Close()
}
