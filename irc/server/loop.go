package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/presbrey/ircd/irc"
	"github.com/presbrey/ircd/irc/netpoll"
)

// Listen opens the listening socket and the poller.
func (s *Server) Listen() error {
	poller, err := netpoll.NewPoller(s.config.Limits.MaxEvents)
	if err != nil {
		return fmt.Errorf("failed to create poller: %w", err)
	}

	host := s.config.Server.Host
	ln, err := netpoll.Listen(host, s.config.Server.Port)
	if err != nil {
		poller.Close()
		return fmt.Errorf("failed to listen on %s: %w", s.config.GetListenAddress(), err)
	}

	if err := poller.Add(ln, false); err != nil {
		ln.Close()
		poller.Close()
		return fmt.Errorf("failed to watch listener: %w", err)
	}

	s.poller = poller
	s.listener = ln
	return nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	if s.poller == nil {
		return ""
	}
	addr, err := netpoll.LocalAddr(s.listener)
	if err != nil {
		return ""
	}
	return addr
}

// Run drives the event loop until ctx is done, then disconnects every
// client and releases the sockets.
func (s *Server) Run(ctx context.Context) error {
	if s.poller == nil {
		return ErrNotListening
	}
	defer s.shutdown()

	log.Printf("IRC server %s listening on %s", s.config.Server.Name, s.Addr())

	interval := s.config.PollInterval()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		events, err := s.poller.Wait(interval)
		if err != nil {
			return fmt.Errorf("event loop: %w", err)
		}

		for _, ev := range events {
			s.handleEvent(ev)
		}

		s.runTasks()
		s.sweep(s.now())
	}
}

func (s *Server) handleEvent(ev netpoll.Event) {
	if ev.Socket == s.listener {
		s.accept()
		return
	}

	id := ev.Socket.Fd()
	sess := s.sessions[id]
	if sess == nil {
		return
	}

	if ev.Readable {
		s.handleRead(sess)
		if s.sessions[id] != sess {
			return
		}
	}

	if ev.Writable {
		s.handleWrite(sess)
		if s.sessions[id] != sess {
			return
		}
	}

	if ev.HangUp {
		s.removeClient(id, causeClosed, "Connection reset by peer")
	}
}

func (s *Server) accept() {
	sock, ip, err := netpoll.Accept(s.listener)
	if err != nil {
		if !errors.Is(err, netpoll.ErrWouldBlock) {
			log.Printf("Failed to accept connection: %v", err)
		}
		return
	}

	if err := s.poller.Add(sock, false); err != nil {
		log.Printf("[%s] %v", ip, err)
		sock.Close()
		return
	}

	s.addSession(sock.Fd(), ip)
	if s.config.Debug {
		log.Printf("[%s] connected", ip)
	}
}

// handleRead reads one chunk and dispatches every complete line in the
// session's buffer.
func (s *Server) handleRead(sess *Session) {
	n, err := netpoll.Socket(sess.ID).Read(s.readBuf)
	if err != nil {
		switch {
		case errors.Is(err, netpoll.ErrWouldBlock):
		case errors.Is(err, io.EOF):
			s.removeClient(sess.ID, causeClosed, "Connection closed")
		default:
			s.removeClient(sess.ID, causeError, "Read error: "+err.Error())
		}
		return
	}

	sess.Touch(s.now())
	sess.AppendToBuffer(s.readBuf[:n])
	s.process(sess)
}

// process dispatches the buffered lines of sess until none is left or the
// session is gone.
func (s *Server) process(sess *Session) {
	for s.sessions[sess.ID] == sess {
		line, ok := sess.NextLine()
		if !ok {
			break
		}

		msg := irc.ParseMessage(line)
		if msg == nil {
			continue
		}
		if s.config.Debug {
			log.Printf("[%s] <= %q", sess.IP, line)
		}
		s.dispatch(sess, msg)
	}

	if s.sessions[sess.ID] == sess && sess.BufferLen() > MaxBuffer {
		sess.ResetBuffer()
		s.replier.Error(sess, irc.ERR_INPUTTOOLONG)
	}
}

func (s *Server) handleWrite(sess *Session) {
	sent, err := sess.Drain(s.writer(sess, netpoll.Socket(sess.ID)))
	if sent > 0 {
		s.metrics.MessagesOut.Add(float64(sent))
	}
	if err != nil {
		s.removeClient(sess.ID, causeError, "Write error: "+err.Error())
		return
	}

	if !sess.Pending() && sess.writeArmed {
		sess.writeArmed = false
		if err := s.poller.Modify(netpoll.Socket(sess.ID), false); err != nil {
			log.Printf("[%s] failed to disarm write interest: %v", sess.IP, err)
		}
	}
}

// tracingWriter logs everything written to a client.
type tracingWriter struct {
	w  io.Writer
	ip string
}

func (t tracingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		log.Printf("[%s] => %q", t.ip, p[:n])
	}
	return n, err
}

func (s *Server) writer(sess *Session, sock netpoll.Socket) io.Writer {
	if s.config.Debug {
		return tracingWriter{w: sock, ip: sess.IP}
	}
	return sock
}

// sweep applies the idle policy at most once per second: PING after
// PingInterval of silence, disconnect after IdleTimeout, and disconnect
// clients that have not registered within RegistrationTimeout.
func (s *Server) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < time.Second {
		return
	}
	s.lastSweep = now

	pingInterval := s.config.PingInterval()
	idleTimeout := s.config.IdleTimeout()
	regTimeout := s.config.RegistrationTimeout()

	for id, sess := range s.sessions {
		idle := now.Sub(sess.LastSeen)

		switch {
		case !sess.IsRegistered() && regTimeout > 0 && now.Sub(sess.Connected) >= regTimeout:
			sess.Enqueue(fmt.Sprintf("ERROR :Closing Link: %s (Registration timeout)", sess.IP))
			s.removeClient(id, causeTimeout, "Registration timeout")
		case idleTimeout > 0 && idle >= idleTimeout:
			sess.Enqueue(fmt.Sprintf("ERROR :Closing Link: %s (Ping timeout)", sess.IP))
			s.removeClient(id, causeTimeout, "Ping timeout")
		case pingInterval > 0 && idle >= pingInterval && !sess.pingSent:
			sess.pingSent = true
			sess.Enqueue(s.replier.Text("", "PING", s.replier.Name))
		}
	}
}

// shutdown disconnects every client and closes the sockets.
func (s *Server) shutdown() {
	for id, sess := range s.sessions {
		sess.Enqueue("ERROR :Server shutting down")
		s.removeClient(id, causeShutdown, "Server shutting down")
	}

	if s.listener >= 0 {
		if err := s.listener.Close(); err != nil {
			log.Printf("Failed to close listener: %v", err)
		}
		s.listener = -1
	}
	if s.poller != nil {
		s.poller.Close()
		s.poller = nil
	}
	log.Printf("IRC server %s stopped", s.config.Server.Name)
}
