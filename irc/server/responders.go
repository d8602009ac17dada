package server

import (
	"fmt"
	"log"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// BotRequest is what a responder sees for one PRIVMSG to the bot nickname.
type BotRequest struct {
	// Params are the whitespace-separated words of the message text.
	Params []string
	Text   string
	Sender *Session
	Server *Server
}

// Responder produces reply text for a bot request. An empty reply means
// the responder has nothing to say.
type Responder func(req *BotRequest) (string, error)

type responderInfo struct {
	Name      string
	Responder Responder
	Priority  int64
}

// Responders is a priority-ordered chain of bot responders.
type Responders struct {
	mu    sync.RWMutex
	chain []responderInfo
}

// NewResponders creates an empty responder chain.
func NewResponders() *Responders {
	return &Responders{
		chain: make([]responderInfo, 0),
	}
}

// Register adds a responder with default priority (0)
func (r *Responders) Register(fn Responder) {
	r.RegisterWithPriority(fn, 0)
}

// RegisterWithPriority adds a responder. Lower priorities run first.
func (r *Responders) RegisterWithPriority(fn Responder, priority int64) {
	name := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.chain = append(r.chain, responderInfo{
		Name:      name,
		Responder: fn,
		Priority:  priority,
	})
	sort.SliceStable(r.chain, func(i, j int) bool {
		return r.chain[i].Priority < r.chain[j].Priority
	})
}

// Count returns the number of registered responders
func (r *Responders) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.chain)
}

// Clear removes every responder.
func (r *Responders) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.chain = make([]responderInfo, 0)
}

// Respond runs the chain in priority order and returns the non-empty
// replies, one reply line per element. A failing or panicking responder is
// logged and skipped.
func (r *Responders) Respond(req *BotRequest) []string {
	r.mu.RLock()
	chain := make([]responderInfo, len(r.chain))
	copy(chain, r.chain)
	r.mu.RUnlock()

	var lines []string
	for _, info := range chain {
		reply, err := func() (reply string, err error) {
			defer func() {
				if p := recover(); p != nil {
					log.Printf("PANIC in responder %s: %v", info.Name, p)
					err = fmt.Errorf("panic in responder %s: %v", info.Name, p)
				}
			}()
			return info.Responder(req)
		}()

		if err != nil {
			log.Printf("ERROR in responder %s: %v", info.Name, err)
			continue
		}

		for _, line := range strings.Split(reply, "\n") {
			line = strings.TrimRight(line, "\r")
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines
}

// HelpResponder answers "help" and "ping", and reports the server's
// channel and user counts for "stats".
func HelpResponder(req *BotRequest) (string, error) {
	if len(req.Params) == 0 {
		return "", nil
	}

	switch strings.ToLower(req.Params[0]) {
	case "help":
		return "commands: help, ping, stats", nil
	case "ping":
		return "pong", nil
	case "stats":
		st := req.Server.Stats()
		return fmt.Sprintf("%d users, %d channels", st.Users, st.Channels), nil
	}
	return "", nil
}
