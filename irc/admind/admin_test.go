package admind

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presbrey/ircd/irc/config"
	"github.com/presbrey/ircd/irc/server"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// runIRC starts a real IRC server on loopback and stops it with the test.
func runIRC(t *testing.T) (*server.Server, string) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Name = "irc.test"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Server.Password = "secret"
	cfg.Limits.PollInterval = 10

	srv, err := server.New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	addr := srv.Addr()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return srv, addr
}

func joinChannel(t *testing.T, addr, nick, channel string) *bufio.Reader {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Write([]byte("PASS secret\r\nNICK " + nick + "\r\nUSER " + nick + " 0 * :" + nick + "\r\nJOIN " + channel + "\r\n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	r := bufio.NewReader(conn)
	waitLine(t, r, " 366 ")
	return r
}

func waitLine(t *testing.T, r *bufio.Reader, substr string) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err, "waiting for %q", substr)
		if strings.Contains(line, substr) {
			return strings.TrimRight(line, "\r\n")
		}
	}
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := runIRC(t)
	h := New(srv).Handler()

	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStats(t *testing.T) {
	srv, addr := runIRC(t)
	h := New(srv).Handler()
	joinChannel(t, addr, "alice", "#ops")

	rec := do(h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ServerName  string         `json:"server_name"`
		Connections int            `json:"connections"`
		Users       int            `json:"users"`
		Channels    int            `json:"channels"`
		Members     map[string]int `json:"members"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "irc.test", body.ServerName)
	assert.Equal(t, 1, body.Connections)
	assert.Equal(t, 1, body.Users)
	assert.Equal(t, 1, body.Channels)
	assert.Equal(t, map[string]int{"#ops": 1}, body.Members)
}

func TestNotice(t *testing.T) {
	srv, addr := runIRC(t)
	h := New(srv).Handler()
	r := joinChannel(t, addr, "alice", "#ops")

	rec := do(h, http.MethodPost, "/channels/ops/notice", `{"text":"deploy at noon"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, ":irc.test NOTICE #ops :deploy at noon", waitLine(t, r, "NOTICE #ops"))

	rec = do(h, http.MethodPost, "/channels/%23ops/notice", `{"text":"escaped works too"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, ":irc.test NOTICE #ops :escaped works too", waitLine(t, r, "NOTICE #ops"))
}

func TestNoticeErrors(t *testing.T) {
	srv, _ := runIRC(t)
	h := New(srv).Handler()

	rec := do(h, http.MethodPost, "/channels/nowhere/notice", `{"text":"hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodPost, "/channels/ops/notice", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "'text' failed on the 'required' tag")

	rec = do(h, http.MethodPost, "/channels/ops/notice", `{"text":"`+strings.Repeat("x", 401)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/channels/ops/notice", `{"text":"two\nlines"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/channels/ops/notice", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetrics(t *testing.T) {
	srv, addr := runIRC(t)
	h := New(srv).Handler()
	joinChannel(t, addr, "alice", "#ops")

	do(h, http.MethodGet, "/healthz", "")

	rec := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ircd_connections 1")
	assert.Contains(t, body, "ircd_channels 1")
	assert.Contains(t, body, `ircd_messages_received_total{command="JOIN"} 1`)
	assert.Contains(t, body, `ircd_admin_requests_total{code="200",method="GET",path="/healthz"} 1`)
}

func TestStartAndShutdown(t *testing.T) {
	srv, _ := runIRC(t)
	admin := New(srv)

	addr, err := admin.Start("127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, admin.Shutdown(ctx))

	_, err = admin.Start("256.0.0.1:0")
	assert.Error(t, err)
}
