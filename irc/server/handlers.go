package server

import (
	"fmt"
	"log"
	"runtime/debug"
	"strings"

	"github.com/presbrey/ircd/irc"
)

type handlerFunc func(sess *Session, msg *irc.Message)

// preRegistration lists the commands accepted before registration completes.
var preRegistration = map[irc.Command]bool{
	irc.CmdPass: true,
	irc.CmdNick: true,
	irc.CmdUser: true,
	irc.CmdPing: true,
	irc.CmdPong: true,
	irc.CmdQuit: true,
	irc.CmdCap:  true,
}

// registerHandlers builds the dispatch table
func (s *Server) registerHandlers() {
	s.handlers = map[irc.Command]handlerFunc{
		irc.CmdPass:     s.handlePass,
		irc.CmdNick:     s.handleNick,
		irc.CmdUser:     s.handleUser,
		irc.CmdPrivmsg:  s.handlePrivmsg,
		irc.CmdNotice:   s.handleNotice,
		irc.CmdJoin:     s.handleJoin,
		irc.CmdPart:     s.handlePart,
		irc.CmdTopic:    s.handleTopic,
		irc.CmdQuit:     s.handleQuit,
		irc.CmdPing:     s.handlePing,
		irc.CmdPong:     s.handlePong,
		irc.CmdKick:     s.handleKick,
		irc.CmdInvite:   s.handleInvite,
		irc.CmdMode:     s.handleMode,
		irc.CmdUserhost: s.handleUserhost,
		irc.CmdNames:    s.handleNames,
		irc.CmdCap:      s.handleCap,
	}
}

// dispatch routes one parsed message. A panicking handler disconnects the
// session that triggered it and leaves the loop running.
func (s *Server) dispatch(sess *Session, msg *irc.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] PANIC handling %q: %v\n%s", sess.IP, msg.Raw, r, debug.Stack())
			sess.Enqueue(fmt.Sprintf("ERROR :Closing Link: %s (Internal error)", sess.IP))
			s.removeClient(sess.ID, causePanic, "Internal error")
		}
	}()

	handler, known := s.handlers[msg.Cmd]
	s.metrics.MessagesIn.WithLabelValues(commandLabel(msg.Command, known)).Inc()

	if msg.Command == "" {
		s.replier.Error(sess, irc.ERR_UNKNOWNCOMMAND)
		return
	}
	if !known {
		s.replier.Error(sess, irc.ERR_UNKNOWNCOMMAND, msg.Command)
		return
	}

	if !sess.IsRegistered() && !preRegistration[msg.Cmd] {
		s.replier.Error(sess, irc.ERR_NOTREGISTERED)
		return
	}

	if !msg.Valid() {
		s.replier.Error(sess, msg.Err, errorContext(msg)...)
		return
	}

	handler(sess, msg)
}

// errorContext returns the parameters that precede the text of a
// parse-time error numeric.
func errorContext(msg *irc.Message) []string {
	switch msg.Err {
	case irc.ERR_NEEDMOREPARAMS:
		return []string{msg.Command}
	case irc.ERR_ERRONEUSNICKNAME:
		return []string{msg.Params[0]}
	}
	return nil
}

func (s *Server) needMoreParams(sess *Session, msg *irc.Message, n int) bool {
	if len(msg.Params) < n {
		s.replier.Error(sess, irc.ERR_NEEDMOREPARAMS, msg.Command)
		return true
	}
	return false
}

// completeRegistration sends the welcome banner once PASS, NICK and USER
// are all in.
func (s *Server) completeRegistration(sess *Session) {
	if sess.welcomed {
		return
	}

	reg := sess.Registration
	if reg.Nick && reg.User && !reg.Pass {
		s.replier.Error(sess, irc.ERR_PASSWDMISMATCH)
		return
	}
	if !reg.Complete() {
		return
	}

	sess.welcomed = true
	s.metrics.Registered.Inc()
	s.replier.Welcome(sess)
	log.Printf("[%s] registered as %s", sess.IP, sess.FullName())
}

// handlePass handles the PASS command
func (s *Server) handlePass(sess *Session, msg *irc.Message) {
	if sess.IsRegistered() {
		s.replier.Error(sess, irc.ERR_ALREADYREGISTRED)
		return
	}

	if msg.Params[0] != s.config.Server.Password {
		sess.Registration.Pass = false
		s.replier.Error(sess, irc.ERR_PASSWDMISMATCH)
		return
	}

	sess.Registration.Pass = true
	s.completeRegistration(sess)
}

// handleNick handles the NICK command
func (s *Server) handleNick(sess *Session, msg *irc.Message) {
	newNick := msg.Params[0]

	// Check if the nickname is already in use
	if holder := s.nicks[newNick]; holder != nil {
		if holder != sess {
			s.replier.Error(sess, irc.ERR_NICKNAMEINUSE, newNick)
		}
		return
	}

	oldNick := sess.Nickname
	oldName := sess.FullName()

	if oldNick != "" {
		delete(s.nicks, oldNick)
	}
	s.nicks[newNick] = sess
	sess.Nickname = newNick
	sess.Registration.Nick = true

	if !sess.welcomed {
		s.completeRegistration(sess)
		return
	}

	// Registered clients announce the change to themselves and their channels
	line := s.replier.Line(oldName, "NICK", newNick)
	sess.Enqueue(line)
	for _, peer := range s.peers(sess) {
		peer.Enqueue(line)
	}
}

// handleUser handles the USER command
func (s *Server) handleUser(sess *Session, msg *irc.Message) {
	if sess.IsRegistered() {
		s.replier.Error(sess, irc.ERR_ALREADYREGISTRED)
		return
	}

	sess.Username = msg.Params[0]
	sess.Realname = msg.Params[3]
	sess.Registration.User = true
	s.completeRegistration(sess)
}

// handlePrivmsg handles the PRIVMSG command
func (s *Server) handlePrivmsg(sess *Session, msg *irc.Message) {
	s.deliver(sess, "PRIVMSG", msg.Params[0], msg.Params[1], true)
}

// handleNotice handles the NOTICE command. NOTICE never triggers replies,
// errors included.
func (s *Server) handleNotice(sess *Session, msg *irc.Message) {
	if len(msg.Params) < 2 || msg.Params[1] == "" {
		return
	}
	s.deliver(sess, "NOTICE", msg.Params[0], msg.Params[1], false)
}

// deliver routes a PRIVMSG or NOTICE to each comma-separated target.
func (s *Server) deliver(sess *Session, command, targets, text string, replies bool) {
	for _, target := range strings.Split(targets, ",") {
		if target == "" {
			continue
		}

		if strings.HasPrefix(target, "#") {
			ch := s.channels[target]
			switch {
			case ch == nil:
				if replies {
					s.replier.Error(sess, irc.ERR_NOSUCHNICK, target)
				}
			case !ch.IsMember(sess):
				if replies {
					s.replier.Error(sess, irc.ERR_CANNOTSENDTOCHAN, target)
				}
			default:
				ch.BroadcastText(sess, command, text, target)
			}
			continue
		}

		if command == "PRIVMSG" && s.isBot(target) {
			s.askBot(sess, text)
			continue
		}

		recipient := s.registeredNick(target)
		if recipient == nil {
			if replies {
				s.replier.Error(sess, irc.ERR_NOSUCHNICK, target)
			}
			continue
		}
		recipient.Enqueue(s.replier.Text(sess.FullName(), command, text, target))
	}
}

func (s *Server) isBot(target string) bool {
	nick := s.config.Bot.Nick
	return nick != "" && strings.EqualFold(target, nick) && s.nicks[target] == nil && s.bots.Count() > 0
}

// askBot runs the responder chain and sends each reply line back as a
// PRIVMSG from the bot.
func (s *Server) askBot(sess *Session, text string) {
	req := &BotRequest{
		Params: strings.Fields(text),
		Text:   text,
		Sender: sess,
		Server: s,
	}

	prefix := irc.FormatHostmask(s.config.Bot.Nick, "bot", s.replier.Name)
	for _, line := range s.bots.Respond(req) {
		sess.Enqueue(s.replier.Text(prefix, "PRIVMSG", line, sess.Nickname))
	}
}

// handleJoin handles the JOIN command
func (s *Server) handleJoin(sess *Session, msg *irc.Message) {
	// JOIN 0 leaves every channel
	if msg.Params[0] == "0" {
		for _, name := range sess.Channels() {
			if ch := s.channels[name]; ch != nil {
				ch.RemoveUser(sess, "")
				s.reap(ch)
			}
		}
		return
	}

	names := strings.Split(msg.Params[0], ",")
	var keys []string
	if len(msg.Params) > 1 {
		keys = strings.Split(msg.Params[1], ",")
	}

	for i, name := range names {
		if !irc.IsValidChannelName(name) {
			s.replier.Error(sess, irc.ERR_NOSUCHCHANNEL, name)
			continue
		}

		var key string
		if i < len(keys) {
			key = keys[i]
		}

		ch := s.channelFor(name)
		if code := ch.AddUser(key, sess); code != 0 {
			if code == irc.ERR_USERONCHANNEL {
				s.replier.Error(sess, code, sess.Nickname, name)
			} else {
				s.replier.Error(sess, code, name)
			}
			s.reap(ch)
			continue
		}

		s.sendTopic(sess, ch, false)
		s.sendNames(sess, ch)
	}
}

// sendTopic sends the topic numerics; RPL_NOTOPIC only when asked for.
func (s *Server) sendTopic(sess *Session, ch *Channel, query bool) {
	if ch.Topic == "" {
		if query {
			s.replier.Error(sess, irc.RPL_NOTOPIC, ch.Name)
		}
		return
	}
	s.replier.Reply(sess, irc.RPL_TOPIC, ch.Name, ch.Topic)
	s.replier.Reply(sess, irc.RPL_TOPICWHOTIME, ch.Name, ch.TopicSetBy, fmt.Sprint(ch.TopicSetAt.Unix()))
}

// sendNames sends RPL_NAMREPLY and RPL_ENDOFNAMES for a channel.
func (s *Server) sendNames(sess *Session, ch *Channel) {
	s.replier.Reply(sess, irc.RPL_NAMREPLY, "=", ch.Name, strings.Join(ch.UserList(), " "))
	s.replier.Error(sess, irc.RPL_ENDOFNAMES, ch.Name)
}

// handlePart handles the PART command
func (s *Server) handlePart(sess *Session, msg *irc.Message) {
	if s.needMoreParams(sess, msg, 1) {
		return
	}

	var reason string
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}

	for _, name := range strings.Split(msg.Params[0], ",") {
		ch := s.channels[name]
		if ch == nil {
			s.replier.Error(sess, irc.ERR_NOSUCHCHANNEL, name)
			continue
		}
		if code := ch.RemoveUser(sess, reason); code != 0 {
			s.replier.Error(sess, code, name)
			continue
		}
		s.reap(ch)
	}
}

// handleTopic handles the TOPIC command
func (s *Server) handleTopic(sess *Session, msg *irc.Message) {
	if s.needMoreParams(sess, msg, 1) {
		return
	}

	name := msg.Params[0]
	ch := s.channels[name]
	if ch == nil {
		s.replier.Error(sess, irc.ERR_NOSUCHCHANNEL, name)
		return
	}

	if len(msg.Params) == 1 {
		if !ch.IsMember(sess) {
			s.replier.Error(sess, irc.ERR_NOTONCHANNEL, name)
			return
		}
		s.sendTopic(sess, ch, true)
		return
	}

	if code := ch.SetTopic(msg.Params[1], sess, s.now()); code != 0 {
		s.replier.Error(sess, code, name)
	}
}

// handleQuit handles the QUIT command
func (s *Server) handleQuit(sess *Session, msg *irc.Message) {
	reason := "Client Quit"
	if len(msg.Params) > 0 && msg.Params[0] != "" {
		reason = msg.Params[0]
	}

	sess.Enqueue(fmt.Sprintf("ERROR :Closing Link: %s (Quit: %s)", sess.IP, reason))
	s.removeClient(sess.ID, causeQuit, "Quit: "+reason)
}

// handlePing handles the PING command
func (s *Server) handlePing(sess *Session, msg *irc.Message) {
	if len(msg.Params) < 1 || msg.Params[0] == "" {
		s.replier.Error(sess, irc.ERR_NOORIGIN)
		return
	}
	sess.Enqueue(s.replier.Text(s.replier.Name, "PONG", msg.Params[0], s.replier.Name))
}

// handlePong handles the PONG command; reading it already refreshed the
// session's activity.
func (s *Server) handlePong(sess *Session, msg *irc.Message) {
	sess.pingSent = false
}

// handleKick handles the KICK command
func (s *Server) handleKick(sess *Session, msg *irc.Message) {
	if s.needMoreParams(sess, msg, 2) {
		return
	}

	name := msg.Params[0]
	ch := s.channels[name]
	if ch == nil {
		s.replier.Error(sess, irc.ERR_NOSUCHCHANNEL, name)
		return
	}

	var reason string
	if len(msg.Params) > 2 {
		reason = msg.Params[2]
	}

	for _, nick := range strings.Split(msg.Params[1], ",") {
		target := s.registeredNick(nick)
		if target == nil {
			s.replier.Error(sess, irc.ERR_NOSUCHNICK, nick)
			continue
		}

		switch code := ch.KickUser(target, sess, reason); code {
		case 0:
		case irc.ERR_USERNOTINCHANNEL:
			s.replier.Error(sess, code, nick, name)
		default:
			s.replier.Error(sess, code, name)
		}
	}
	s.reap(ch)
}

// handleInvite handles the INVITE command
func (s *Server) handleInvite(sess *Session, msg *irc.Message) {
	if s.needMoreParams(sess, msg, 2) {
		return
	}

	nick, name := msg.Params[0], msg.Params[1]

	target := s.registeredNick(nick)
	if target == nil {
		s.replier.Error(sess, irc.ERR_NOSUCHNICK, nick)
		return
	}

	ch := s.channels[name]
	if ch == nil {
		s.replier.Error(sess, irc.ERR_NOSUCHCHANNEL, name)
		return
	}

	if code := ch.InviteUser(target, sess); code != 0 {
		if code == irc.ERR_USERONCHANNEL {
			s.replier.Error(sess, code, nick, name)
		} else {
			s.replier.Error(sess, code, name)
		}
		return
	}

	s.replier.Reply(sess, irc.RPL_INVITING, nick, name)
	target.Enqueue(s.replier.Line(sess.FullName(), "INVITE", nick, name))
	s.sendTopic(target, ch, false)
	s.sendNames(target, ch)
}

// modeTakesArg reports whether a channel mode letter consumes an argument.
func modeTakesArg(mode byte, adding bool) bool {
	switch mode {
	case 'o':
		return true
	case 'k', 'l':
		return adding
	}
	return false
}

// handleMode handles the MODE command
func (s *Server) handleMode(sess *Session, msg *irc.Message) {
	if s.needMoreParams(sess, msg, 1) {
		return
	}

	target := msg.Params[0]
	if !strings.HasPrefix(target, "#") {
		s.handleUserMode(sess, msg)
		return
	}

	ch := s.channels[target]
	if ch == nil {
		s.replier.Error(sess, irc.ERR_NOSUCHCHANNEL, target)
		return
	}

	// Query
	if len(msg.Params) == 1 {
		params := append([]string{target, ch.ModeString()}, ch.VisibleModeValues(sess)...)
		s.replier.Reply(sess, irc.RPL_CHANNELMODEIS, params...)
		s.replier.Reply(sess, irc.RPL_CREATIONTIME, target, fmt.Sprint(ch.Created.Unix()))
		return
	}

	modes := msg.Params[1]
	args := msg.Params[2:]
	adding := true

	for i := 0; i < len(modes); i++ {
		mode := modes[i]
		switch mode {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}

		var value string
		if modeTakesArg(mode, adding) {
			if len(args) == 0 {
				s.replier.Error(sess, irc.ERR_NEEDMOREPARAMS, "MODE")
				return
			}
			value, args = args[0], args[1:]
		}

		switch code := ch.SetMode(mode, adding, value, sess); code {
		case 0:
		case irc.ERR_UNKNOWNMODE:
			s.replier.Error(sess, code, string(mode))
		case irc.ERR_NEEDMOREPARAMS:
			s.replier.Error(sess, code, "MODE")
		default:
			// Privilege errors apply to every remaining letter too
			s.replier.Error(sess, code, target)
			return
		}
	}
}

// handleUserMode answers user mode queries; no user modes are supported.
func (s *Server) handleUserMode(sess *Session, msg *irc.Message) {
	nick := msg.Params[0]
	if s.registeredNick(nick) == nil {
		s.replier.Error(sess, irc.ERR_NOSUCHNICK, nick)
		return
	}
	if nick != sess.Nickname {
		s.replier.Error(sess, irc.ERR_USERSDONTMATCH)
		return
	}

	if len(msg.Params) == 1 {
		s.replier.Reply(sess, irc.RPL_UMODEIS, "+")
		return
	}
	s.replier.Error(sess, irc.ERR_UMODEUNKNOWNFLAG)
}

// handleUserhost handles the USERHOST command
func (s *Server) handleUserhost(sess *Session, msg *irc.Message) {
	if s.needMoreParams(sess, msg, 1) {
		return
	}

	nicks := msg.Params
	if len(nicks) > 5 {
		nicks = nicks[:5]
	}

	var replies []string
	for _, nick := range nicks {
		if target := s.registeredNick(nick); target != nil {
			replies = append(replies, fmt.Sprintf("%s=+%s@%s", target.Nickname, target.Username, target.IP))
		}
	}
	s.replier.Reply(sess, irc.RPL_USERHOST, strings.Join(replies, " "))
}

// handleNames handles the NAMES command
func (s *Server) handleNames(sess *Session, msg *irc.Message) {
	if len(msg.Params) == 0 {
		for _, name := range s.ChannelNames() {
			s.sendNames(sess, s.channels[name])
		}
		return
	}

	for _, name := range strings.Split(msg.Params[0], ",") {
		if ch := s.channels[name]; ch != nil {
			s.sendNames(sess, ch)
		} else {
			s.replier.Error(sess, irc.RPL_ENDOFNAMES, name)
		}
	}
}

// handleCap acknowledges capability negotiation without offering any.
func (s *Server) handleCap(sess *Session, msg *irc.Message) {
	if len(msg.Params) == 0 {
		s.replier.Error(sess, irc.ERR_NEEDMOREPARAMS, "CAP")
		return
	}

	switch strings.ToUpper(msg.Params[0]) {
	case "LS", "LIST":
		sess.Enqueue(s.replier.Text(s.replier.Name, "CAP", "", sess.Target(), strings.ToUpper(msg.Params[0])))
	case "REQ":
		var caps string
		if len(msg.Params) > 1 {
			caps = msg.Params[1]
		}
		sess.Enqueue(s.replier.Text(s.replier.Name, "CAP", caps, sess.Target(), "NAK"))
	case "END":
	default:
		s.replier.Error(sess, irc.ERR_INVALIDCAPCMD, msg.Params[0])
	}
}
