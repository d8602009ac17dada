package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/presbrey/ircd/irc"
)

// NoLimit is the user limit of a channel without +l.
const NoLimit = -1

// ChannelModes represents the modes of a channel
type ChannelModes struct {
	InviteOnly        bool // i
	TopicProtected    bool // t
	PasswordProtected bool // k
	HasOperators      bool // o
	UserLimited       bool // l
}

// Directory resolves session IDs for a channel.
type Directory interface {
	Session(id int) *Session
}

// Channel represents an IRC channel. Membership is kept as session IDs,
// in join order, and resolved through the Directory when needed.
type Channel struct {
	Name       string
	Topic      string
	TopicSetBy string
	TopicSetAt time.Time
	Created    time.Time

	Modes    ChannelModes
	Password string
	Limit    int

	members   []int
	operators map[int]bool

	dir     Directory
	replier *Replier
}

// NewChannel creates an empty channel.
func NewChannel(name string, dir Directory, replier *Replier, now time.Time) *Channel {
	return &Channel{
		Name:      name,
		Created:   now,
		Limit:     NoLimit,
		operators: make(map[int]bool),
		dir:       dir,
		replier:   replier,
	}
}

// IsMember reports whether the session is on the channel.
func (c *Channel) IsMember(s *Session) bool {
	return c.indexOf(s.ID) >= 0
}

// IsOperator reports whether the session holds channel operator status.
func (c *Channel) IsOperator(s *Session) bool {
	return c.operators[s.ID]
}

// MemberCount returns the number of members in the channel
func (c *Channel) MemberCount() int {
	return len(c.members)
}

// Empty reports whether the channel has no members left.
func (c *Channel) Empty() bool {
	return len(c.members) == 0
}

// Members returns the live member sessions in join order.
func (c *Channel) Members() []*Session {
	out := make([]*Session, 0, len(c.members))
	for _, id := range c.members {
		if s := c.dir.Session(id); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c *Channel) indexOf(id int) int {
	for i, m := range c.members {
		if m == id {
			return i
		}
	}
	return -1
}

func (c *Channel) member(nick string) *Session {
	for _, s := range c.Members() {
		if s.Nickname == nick {
			return s
		}
	}
	return nil
}

// AddUser admits s with the given key. The first member of an empty channel
// becomes its operator. It returns 0 on success or the numeric refusing
// the join.
func (c *Channel) AddUser(key string, s *Session) int {
	if c.Modes.InviteOnly {
		return irc.ERR_INVITEONLYCHAN
	}
	if c.Modes.PasswordProtected && key != c.Password {
		return irc.ERR_BADCHANNELKEY
	}
	if c.IsMember(s) {
		return irc.ERR_USERONCHANNEL
	}
	if c.Modes.UserLimited && c.Limit != NoLimit && len(c.members) >= c.Limit {
		return irc.ERR_CHANNELISFULL
	}

	c.admit(s)
	return 0
}

// admit adds s as a member and announces the JOIN to everyone, s included.
func (c *Channel) admit(s *Session) {
	c.members = append(c.members, s.ID)
	if len(c.members) == 1 {
		c.operators[s.ID] = true
		c.Modes.HasOperators = true
	}
	s.JoinChannel(c.Name)
	c.Broadcast(s, "JOIN", c.Name)
}

// RemoveUser removes s after announcing its PART to the channel.
func (c *Channel) RemoveUser(s *Session, reason string) int {
	if !c.IsMember(s) {
		return irc.ERR_NOTONCHANNEL
	}

	if reason != "" {
		c.BroadcastText(s, "PART", reason, c.Name)
	} else {
		c.Broadcast(s, "PART", c.Name)
	}
	c.drop(s)
	return 0
}

// Quit removes s silently; the caller has already announced the QUIT.
func (c *Channel) Quit(s *Session) {
	if c.IsMember(s) {
		c.drop(s)
	}
}

// drop removes s from membership and operator status, then promotes a
// remaining member if no operator is left.
func (c *Channel) drop(s *Session) {
	if i := c.indexOf(s.ID); i >= 0 {
		c.members = append(c.members[:i], c.members[i+1:]...)
	}
	delete(c.operators, s.ID)
	s.PartChannel(c.Name)
	c.ensureOperator()
}

func (c *Channel) ensureOperator() {
	if len(c.operators) > 0 || len(c.members) == 0 {
		c.Modes.HasOperators = len(c.operators) > 0
		return
	}

	for _, s := range c.Members() {
		c.operators[s.ID] = true
		c.Modes.HasOperators = true
		c.broadcastLine(c.replier.Line(c.replier.Name, "MODE", c.Name, "+o", s.Nickname))
		return
	}
}

// KickUser removes target on behalf of actor, who must be an operator.
// The KICK is announced to the channel, target included.
func (c *Channel) KickUser(target, actor *Session, reason string) int {
	if !c.IsMember(actor) {
		return irc.ERR_NOTONCHANNEL
	}
	if !c.IsOperator(actor) {
		return irc.ERR_CHANOPRIVSNEEDED
	}
	if target.ID == actor.ID {
		return irc.ERR_CANTKICKSELF
	}
	if !c.IsMember(target) {
		return irc.ERR_USERNOTINCHANNEL
	}

	if reason == "" {
		reason = actor.Nickname
	}
	c.BroadcastText(actor, "KICK", reason, c.Name, target.Nickname)
	c.drop(target)
	return 0
}

// InviteUser admits target straight away on behalf of actor, who must be
// an operator. Invitations bypass +i, +k and +l.
func (c *Channel) InviteUser(target, actor *Session) int {
	if !c.IsMember(actor) {
		return irc.ERR_NOTONCHANNEL
	}
	if !c.IsOperator(actor) {
		return irc.ERR_CHANOPRIVSNEEDED
	}
	if c.IsMember(target) {
		return irc.ERR_USERONCHANNEL
	}

	c.admit(target)
	return 0
}

// SetMode applies one mode change on behalf of actor and announces it.
// value carries the key, the nickname for o, or the limit for l.
func (c *Channel) SetMode(mode byte, state bool, value string, actor *Session) int {
	if !c.IsMember(actor) {
		return irc.ERR_NOTONCHANNEL
	}
	if !c.IsOperator(actor) {
		return irc.ERR_CHANOPRIVSNEEDED
	}

	sign := "-"
	if state {
		sign = "+"
	}
	change := sign + string(mode)
	params := []string{c.Name, change}

	switch mode {
	case 'i':
		c.Modes.InviteOnly = state
	case 't':
		c.Modes.TopicProtected = state
	case 'k':
		if state {
			if value == "" || strings.ContainsAny(value, " ,") {
				return irc.ERR_NEEDMOREPARAMS
			}
			c.Password = value
			params = append(params, value)
		} else {
			c.Password = ""
		}
		c.Modes.PasswordProtected = state
	case 'o':
		target := c.member(value)
		if target == nil {
			// Unknown nicks are ignored
			return 0
		}
		if state {
			c.operators[target.ID] = true
		} else {
			delete(c.operators, target.ID)
		}
		params = append(params, target.Nickname)
	case 'l':
		if state {
			limit, err := strconv.Atoi(value)
			if err != nil || limit <= 0 {
				return irc.ERR_NEEDMOREPARAMS
			}
			c.Limit = limit
			params = append(params, value)
		} else {
			c.Limit = NoLimit
		}
		c.Modes.UserLimited = state
	default:
		return irc.ERR_UNKNOWNMODE
	}

	c.Broadcast(actor, "MODE", params...)
	if mode == 'o' {
		c.ensureOperator()
	}
	return 0
}

// SetTopic changes the topic on behalf of actor and announces it.
func (c *Channel) SetTopic(topic string, actor *Session, now time.Time) int {
	if !c.IsMember(actor) {
		return irc.ERR_NOTONCHANNEL
	}
	if c.Modes.TopicProtected && !c.IsOperator(actor) {
		return irc.ERR_CHANOPRIVSNEEDED
	}

	c.Topic = topic
	c.TopicSetBy = actor.Nickname
	c.TopicSetAt = now
	c.BroadcastText(actor, "TOPIC", topic, c.Name)
	return 0
}

// ModeString renders the active flag modes as "+itkl", in that order.
func (c *Channel) ModeString() string {
	var b strings.Builder
	b.WriteString("+")
	if c.Modes.InviteOnly {
		b.WriteString("i")
	}
	if c.Modes.TopicProtected {
		b.WriteString("t")
	}
	if c.Modes.PasswordProtected {
		b.WriteString("k")
	}
	if c.Modes.UserLimited {
		b.WriteString("l")
	}
	return b.String()
}

// ModeValues returns the arguments of ModeString: the key, then the limit.
func (c *Channel) ModeValues() []string {
	var values []string
	if c.Modes.PasswordProtected {
		values = append(values, c.Password)
	}
	if c.Modes.UserLimited {
		values = append(values, strconv.Itoa(c.Limit))
	}
	return values
}

// VisibleModeValues is ModeValues as shown to s. The key is only revealed
// to members.
func (c *Channel) VisibleModeValues(s *Session) []string {
	values := c.ModeValues()
	if c.Modes.PasswordProtected && !c.IsMember(s) {
		values = values[1:]
	}
	return values
}

// UserList returns member nicknames in join order, operators marked "@".
func (c *Channel) UserList() []string {
	names := make([]string, 0, len(c.members))
	for _, s := range c.Members() {
		if c.operators[s.ID] {
			names = append(names, "@"+s.Nickname)
		} else {
			names = append(names, s.Nickname)
		}
	}
	return names
}

// Broadcast sends a message from sender to every member. PRIVMSG and
// NOTICE skip the sender; everything else echoes back to it.
func (c *Channel) Broadcast(sender *Session, command string, params ...string) {
	c.send(sender, command, c.replier.Line(sender.FullName(), command, params...))
}

// BroadcastText is Broadcast with a free-text trailing parameter.
func (c *Channel) BroadcastText(sender *Session, command, text string, params ...string) {
	c.send(sender, command, c.replier.Text(sender.FullName(), command, text, params...))
}

// Notice sends a server-originated NOTICE to every member.
func (c *Channel) Notice(text string) {
	c.broadcastLine(c.replier.Text(c.replier.Name, "NOTICE", text, c.Name))
}

func (c *Channel) send(sender *Session, command, line string) {
	skipSender := command == "PRIVMSG" || command == "NOTICE"
	for _, s := range c.Members() {
		if skipSender && s.ID == sender.ID {
			continue
		}
		s.Enqueue(line)
	}
}

func (c *Channel) broadcastLine(line string) {
	for _, s := range c.Members() {
		s.Enqueue(line)
	}
}
