package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/presbrey/ircd/irc"
)

// Replier formats server-originated messages and queues them on sessions.
type Replier struct {
	Name    string
	Network string
	Version string
	Created time.Time
	MOTD    []string
}

// Line renders a message. The last parameter is sent as trailing only when
// it has to be.
func (r *Replier) Line(prefix, command string, params ...string) string {
	msg := &irc.Message{Prefix: prefix, Command: command, Params: params}
	return msg.String()
}

// Text renders a message whose last parameter is free text and is always
// sent as trailing.
func (r *Replier) Text(prefix, command, text string, params ...string) string {
	var b strings.Builder
	if prefix != "" {
		b.WriteString(":")
		b.WriteString(prefix)
		b.WriteString(" ")
	}
	b.WriteString(command)
	for _, p := range params {
		b.WriteString(" ")
		b.WriteString(p)
	}
	b.WriteString(" :")
	b.WriteString(text)
	return b.String()
}

// Numeric renders ":<server> NNN <target> params... :last".
func (r *Replier) Numeric(s *Session, code int, params ...string) string {
	head := fmt.Sprintf(":%s %03d %s", r.Name, code, s.Target())
	if len(params) == 0 {
		return head
	}

	middle := params[:len(params)-1]
	last := params[len(params)-1]

	var b strings.Builder
	b.WriteString(head)
	for _, p := range middle {
		b.WriteString(" ")
		b.WriteString(p)
	}
	b.WriteString(" :")
	b.WriteString(last)
	return b.String()
}

// Reply queues a numeric with explicit parameters.
func (r *Replier) Reply(s *Session, code int, params ...string) {
	s.Enqueue(r.Numeric(s, code, params...))
}

// Error queues a numeric whose trailing text is the standard one for code,
// preceded by context such as the offending command or channel.
func (r *Replier) Error(s *Session, code int, context ...string) {
	params := append(context, irc.ReplyText(code))
	s.Enqueue(r.Numeric(s, code, params...))
}

// Notice queues a server NOTICE to the session.
func (r *Replier) Notice(s *Session, text string) {
	s.Enqueue(r.Text(r.Name, "NOTICE", text, s.Target()))
}

// Welcome queues the registration banner: 001-005 and the MOTD.
func (r *Replier) Welcome(s *Session) {
	r.Reply(s, irc.RPL_WELCOME, fmt.Sprintf("Welcome to the %s IRC Network %s", r.Network, s.FullName()))
	r.Reply(s, irc.RPL_YOURHOST, fmt.Sprintf("Your host is %s, running version %s", r.Name, r.Version))
	r.Reply(s, irc.RPL_CREATED, fmt.Sprintf("This server was created %s", r.Created.Format(time.RFC1123)))
	r.Reply(s, irc.RPL_MYINFO, r.Name, r.Version, "o", "iklot")
	r.Reply(s, irc.RPL_ISUPPORT,
		"CHANTYPES=#",
		"PREFIX=(o)@",
		"CHANMODES=,k,l,it",
		"NICKLEN=9",
		"CHANNELLEN=50",
		"NETWORK="+r.Network,
		"are supported by this server")
	r.MOTDTo(s)
}

// MOTDTo queues the message of the day, or ERR_NOMOTD when there is none.
func (r *Replier) MOTDTo(s *Session) {
	if len(r.MOTD) == 0 {
		r.Error(s, irc.ERR_NOMOTD)
		return
	}

	r.Reply(s, irc.RPL_MOTDSTART, fmt.Sprintf("- %s Message of the day - ", r.Name))
	for _, line := range r.MOTD {
		r.Reply(s, irc.RPL_MOTD, "- "+line)
	}
	r.Error(s, irc.RPL_ENDOFMOTD)
}
