package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/presbrey/ircd/irc"
	"github.com/presbrey/ircd/irc/config"
	"github.com/presbrey/ircd/irc/netpoll"
)

// Disconnect causes, used as the metrics label.
const (
	causeQuit     = "quit"
	causeClosed   = "closed"
	causeError    = "error"
	causeTimeout  = "timeout"
	causeShutdown = "shutdown"
	causePanic    = "panic"
)

// ErrNotListening is returned by Run before Listen succeeded.
var ErrNotListening = errors.New("server is not listening")

// ErrNoSuchChannel is returned when relaying to a channel that does not exist.
var ErrNoSuchChannel = errors.New("no such channel")

// Server represents the IRC server. Apart from Post, Snapshot and Relay,
// its methods must only be called from the goroutine running the loop.
type Server struct {
	config    *config.Config
	replier   *Replier
	metrics   *Metrics
	bots      *Responders
	startTime time.Time

	sessions map[int]*Session
	nicks    map[string]*Session
	channels map[string]*Channel
	handlers map[irc.Command]handlerFunc

	poller   *netpoll.Poller
	listener netpoll.Socket
	readBuf  []byte

	tasksMu sync.Mutex
	tasks   []func(*Server)

	lastSweep time.Time
	now       func() time.Time
}

// New creates a server from a validated configuration.
func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	now := time.Now()
	s := &Server{
		config: cfg,
		replier: &Replier{
			Name:    cfg.Server.Name,
			Network: cfg.Server.Network,
			Version: cfg.Server.Version,
			Created: now,
			MOTD:    cfg.Server.MOTD,
		},
		metrics:   NewMetrics(),
		bots:      NewResponders(),
		startTime: now,
		sessions:  make(map[int]*Session),
		nicks:     make(map[string]*Session),
		channels:  make(map[string]*Channel),
		listener:  -1,
		readBuf:   make([]byte, ReadChunk),
		lastSweep: now,
		now:       time.Now,
	}

	if cfg.Bot.Nick != "" {
		s.bots.Register(HelpResponder)
	}

	s.registerHandlers()

	return s, nil
}

// Config returns the server configuration
func (s *Server) Config() *config.Config {
	return s.config
}

// Metrics returns the server's Prometheus collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Responders returns the bot responder chain.
func (s *Server) Responders() *Responders {
	return s.bots
}

// Replier returns the message formatter.
func (s *Server) Replier() *Replier {
	return s.replier
}

// Session resolves a session by ID.
func (s *Server) Session(id int) *Session {
	return s.sessions[id]
}

// SessionByNick resolves a session by exact nickname.
func (s *Server) SessionByNick(nick string) *Session {
	return s.nicks[nick]
}

// registeredNick resolves a nickname to a registered session. Sessions
// still registering hold their nick but cannot be addressed.
func (s *Server) registeredNick(nick string) *Session {
	if sess := s.nicks[nick]; sess != nil && sess.IsRegistered() {
		return sess
	}
	return nil
}

// GetChannel gets a channel by name
func (s *Server) GetChannel(name string) *Channel {
	return s.channels[name]
}

// addSession registers a freshly accepted connection.
func (s *Server) addSession(id int, ip string) *Session {
	sess := NewSession(id, ip, s, s.now())
	s.sessions[id] = sess
	s.metrics.Connections.Inc()
	return sess
}

// channelFor returns the named channel, creating it when missing.
func (s *Server) channelFor(name string) *Channel {
	ch := s.channels[name]
	if ch == nil {
		ch = NewChannel(name, s, s.replier, s.now())
		s.channels[name] = ch
		s.metrics.Channels.Inc()
	}
	return ch
}

// reap destroys the channel once its last member left.
func (s *Server) reap(ch *Channel) {
	if ch.Empty() && s.channels[ch.Name] == ch {
		delete(s.channels, ch.Name)
		s.metrics.Channels.Dec()
	}
}

// WantWrite arms write readiness for a session with queued output.
func (s *Server) WantWrite(id int) {
	sess := s.sessions[id]
	if sess == nil || sess.writeArmed {
		return
	}
	sess.writeArmed = true

	if s.poller != nil {
		if err := s.poller.Modify(netpoll.Socket(id), true); err != nil {
			log.Printf("[%s] failed to arm write interest: %v", sess.IP, err)
		}
	}
}

// peers returns every distinct session sharing a channel with sess,
// excluding sess itself.
func (s *Server) peers(sess *Session) []*Session {
	seen := map[int]bool{sess.ID: true}
	var out []*Session
	for _, name := range sess.Channels() {
		ch := s.channels[name]
		if ch == nil {
			continue
		}
		for _, m := range ch.Members() {
			if !seen[m.ID] {
				seen[m.ID] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// safely runs one cleanup step, logging a panic instead of propagating it.
func safely(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC during %s: %v", step, r)
		}
	}()
	fn()
}

// removeClient tears a session down: QUIT to its channel peers, removal
// from every channel (with operator auto-promotion), registries and the
// poller, then the socket is closed. Removing an unknown ID does nothing.
func (s *Server) removeClient(id int, cause, reason string) {
	sess := s.sessions[id]
	if sess == nil {
		return
	}
	delete(s.sessions, id)

	if s.config.Debug {
		log.Printf("[%s] disconnect %s: %s", sess.IP, cause, reason)
	}

	safely("quit broadcast", func() {
		if !sess.IsRegistered() && len(sess.Channels()) == 0 {
			return
		}
		line := s.replier.Text(sess.FullName(), "QUIT", reason)
		for _, peer := range s.peers(sess) {
			peer.Enqueue(line)
		}
	})

	safely("channel cleanup", func() {
		for _, name := range sess.Channels() {
			if ch := s.channels[name]; ch != nil {
				ch.Quit(sess)
				s.reap(ch)
			}
			sess.PartChannel(name)
		}
	})

	safely("nick cleanup", func() {
		if cur := s.nicks[sess.Nickname]; cur == sess {
			delete(s.nicks, sess.Nickname)
		}
	})

	safely("socket cleanup", func() {
		if s.poller == nil {
			return
		}
		sock := netpoll.Socket(id)
		if sess.Pending() {
			// Best effort for a final ERROR line
			sess.Drain(s.writer(sess, sock))
		}
		if err := s.poller.Remove(sock); err != nil && s.config.Debug {
			log.Printf("[%s] %v", sess.IP, err)
		}
		if err := sock.Close(); err != nil {
			log.Printf("[%s] close: %v", sess.IP, err)
		}
	})

	sess.closed = true
	s.metrics.Connections.Dec()
	if sess.welcomed {
		s.metrics.Registered.Dec()
	}
	s.metrics.Disconnects.WithLabelValues(cause).Inc()
}

// Post schedules fn to run on the loop goroutine. It is safe for
// concurrent use.
func (s *Server) Post(fn func(*Server)) {
	s.tasksMu.Lock()
	s.tasks = append(s.tasks, fn)
	s.tasksMu.Unlock()
}

func (s *Server) runTasks() {
	s.tasksMu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.tasksMu.Unlock()

	for _, task := range tasks {
		safely("posted task", func() { task(s) })
	}
}

// Stats is a point-in-time view of the server.
type Stats struct {
	Connections int            `json:"connections"`
	Users       int            `json:"users"`
	Channels    int            `json:"channels"`
	Uptime      string         `json:"uptime"`
	Members     map[string]int `json:"members"`
}

// Stats collects server statistics. Loop goroutine only.
func (s *Server) Stats() Stats {
	st := Stats{
		Connections: len(s.sessions),
		Users:       len(s.nicks),
		Channels:    len(s.channels),
		Uptime:      s.now().Sub(s.startTime).Truncate(time.Second).String(),
		Members:     make(map[string]int, len(s.channels)),
	}
	for name, ch := range s.channels {
		st.Members[name] = ch.MemberCount()
	}
	return st
}

// ChannelNames returns the live channel names, sorted.
func (s *Server) ChannelNames() []string {
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot collects Stats on the loop goroutine and waits for the result.
func (s *Server) Snapshot(ctx context.Context) (Stats, error) {
	result := make(chan Stats, 1)
	s.Post(func(srv *Server) {
		result <- srv.Stats()
	})

	select {
	case st := <-result:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Relay sends a server NOTICE to every member of a channel and waits for
// the loop to deliver it.
func (s *Server) Relay(ctx context.Context, channel, text string) error {
	result := make(chan error, 1)
	s.Post(func(srv *Server) {
		ch := srv.channels[channel]
		if ch == nil {
			result <- fmt.Errorf("%w: %s", ErrNoSuchChannel, channel)
			return
		}
		ch.Notice(text)
		result <- nil
	})

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
