package irc

import (
	"bytes"
	"strings"
)

// Command identifies a recognized IRC command.
type Command int

const (
	CmdUnknown Command = iota
	CmdPass
	CmdNick
	CmdUser
	CmdPrivmsg
	CmdNotice
	CmdJoin
	CmdPart
	CmdTopic
	CmdQuit
	CmdPing
	CmdPong
	CmdKick
	CmdInvite
	CmdMode
	CmdUserhost
	CmdNames
	CmdCap
)

var commandNames = map[string]Command{
	"PASS":     CmdPass,
	"NICK":     CmdNick,
	"USER":     CmdUser,
	"PRIVMSG":  CmdPrivmsg,
	"NOTICE":   CmdNotice,
	"JOIN":     CmdJoin,
	"PART":     CmdPart,
	"TOPIC":    CmdTopic,
	"QUIT":     CmdQuit,
	"PING":     CmdPing,
	"PONG":     CmdPong,
	"KICK":     CmdKick,
	"INVITE":   CmdInvite,
	"MODE":     CmdMode,
	"USERHOST": CmdUserhost,
	"NAMES":    CmdNames,
	"CAP":      CmdCap,
}

// LookupCommand maps a command token to its Command, CmdUnknown if unrecognized.
func LookupCommand(name string) Command {
	return commandNames[strings.ToUpper(name)]
}

// Message represents an IRC message
type Message struct {
	Prefix  string
	Command string
	Params  []string

	// Cmd is the recognized command, CmdUnknown for anything else.
	Cmd Command

	// Err is the numeric error found while validating the message, 0 if valid.
	Err int

	// Raw is the line the message was parsed from, without its terminator.
	Raw string
}

// Valid reports whether the message passed parse-time validation.
func (m *Message) Valid() bool {
	return m.Err == 0
}

// SplitLine returns the first complete line in buf, without its CR/LF
// terminator, and the number of bytes it occupies. ok is false when buf
// holds no line terminator yet.
func SplitLine(buf []byte) (line []byte, n int, ok bool) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return nil, 0, false
	}
	return bytes.TrimRight(buf[:idx], "\r"), idx + 1, true
}

// Parse extracts every complete line from buf. A trailing fragment without a
// line terminator is not consumed; consumed is the number of bytes the caller
// may discard. Blank lines are consumed without producing a message.
func Parse(buf []byte) (msgs []*Message, consumed int) {
	for {
		line, n, ok := SplitLine(buf[consumed:])
		if !ok {
			return msgs, consumed
		}
		consumed += n

		if msg := ParseMessage(string(line)); msg != nil {
			msgs = append(msgs, msg)
		}
	}
}

// ParseMessage parses one IRC line. It returns nil only for a blank line;
// a malformed line yields a Message with Err set.
func ParseMessage(line string) *Message {
	if strings.TrimLeft(line, " ") == "" {
		return nil
	}

	msg := &Message{
		Params: make([]string, 0),
		Raw:    line,
	}

	// Check if the message has a prefix
	if line[0] == ':' {
		parts := strings.SplitN(line[1:], " ", 2)
		msg.Prefix = parts[0]
		if len(parts) < 2 {
			line = ""
		} else {
			line = parts[1]
		}
	}

	line = strings.TrimLeft(line, " ")
	if line == "" {
		msg.Err = ERR_UNKNOWNCOMMAND
		return msg
	}

	parts := strings.SplitN(line, " ", 2)
	msg.Command = strings.ToUpper(parts[0])
	msg.Cmd = commandNames[msg.Command]

	if len(parts) > 1 {
		paramPart := parts[1]

		for paramPart != "" {
			// Runs of spaces separate parameters like a single space
			if paramPart[0] == ' ' {
				paramPart = paramPart[1:]
				continue
			}

			// Trailing parameter consumes the rest of the line verbatim
			if paramPart[0] == ':' {
				msg.Params = append(msg.Params, paramPart[1:])
				break
			}

			parts := strings.SplitN(paramPart, " ", 2)
			msg.Params = append(msg.Params, parts[0])
			if len(parts) > 1 {
				paramPart = parts[1]
			} else {
				break
			}
		}
	}

	msg.Err = validate(msg)
	return msg
}

// validate performs the parse-time checks and returns the numeric error.
func validate(msg *Message) int {
	switch msg.Cmd {
	case CmdPass, CmdJoin:
		if len(msg.Params) < 1 || msg.Params[0] == "" {
			return ERR_NEEDMOREPARAMS
		}
	case CmdNick:
		if len(msg.Params) < 1 || msg.Params[0] == "" {
			return ERR_NONICKNAMEGIVEN
		}
		if !IsValidNickname(msg.Params[0]) {
			return ERR_ERRONEUSNICKNAME
		}
	case CmdUser:
		if len(msg.Params) < 4 {
			return ERR_NEEDMOREPARAMS
		}
		if !IsValidUsername(msg.Params[0]) {
			return ERR_INVALIDUSERNAME
		}
	case CmdPrivmsg:
		if len(msg.Params) < 1 || msg.Params[0] == "" {
			return ERR_NORECIPIENT
		}
		if len(msg.Params) < 2 || msg.Params[1] == "" {
			return ERR_NOTEXTTOSEND
		}
	}
	return 0
}

// String returns the string representation of the message
func (m *Message) String() string {
	var builder strings.Builder

	if m.Prefix != "" {
		builder.WriteString(":")
		builder.WriteString(m.Prefix)
		builder.WriteString(" ")
	}

	builder.WriteString(m.Command)

	for i, param := range m.Params {
		builder.WriteString(" ")

		// The last parameter needs a colon if it could not be read back as a middle one
		if i == len(m.Params)-1 && NeedsTrailing(param) {
			builder.WriteString(":")
		}
		builder.WriteString(param)
	}

	return builder.String()
}

// NeedsTrailing reports whether param must be sent as a trailing parameter.
func NeedsTrailing(param string) bool {
	return param == "" || strings.Contains(param, " ") || strings.HasPrefix(param, ":")
}

const (
	nickMaxLen   = 9
	nickSpecials = "[]\\^_`{|}"
)

// IsValidNickname checks a nickname against the RFC 2812 grammar:
// a letter or special first, then letters, digits, specials or '-'.
func IsValidNickname(nick string) bool {
	if len(nick) < 1 || len(nick) > nickMaxLen {
		return false
	}

	for i := 0; i < len(nick); i++ {
		ch := nick[i]
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z':
		case strings.IndexByte(nickSpecials, ch) >= 0:
		case i > 0 && (ch >= '0' && ch <= '9' || ch == '-'):
		default:
			return false
		}
	}

	return true
}

// IsValidUsername rejects empty usernames and those containing characters
// that would break the nick!user@host form.
func IsValidUsername(user string) bool {
	if user == "" {
		return false
	}
	return !strings.ContainsAny(user, " @\x00\r\n")
}

// IsValidChannelName checks if a channel name is valid
func IsValidChannelName(name string) bool {
	if len(name) < 2 || len(name) > 50 {
		return false
	}

	if name[0] != '#' {
		return false
	}

	// Can't contain spaces, ASCII 7 (bell), commas, colons, or NULL bytes
	return !strings.ContainsAny(name, " ,:\x00\x07\r\n")
}

// ParseHostmask parses a hostmask (nick!user@host)
func ParseHostmask(hostmask string) (nick, user, host string) {
	nickParts := strings.SplitN(hostmask, "!", 2)
	if len(nickParts) < 2 {
		nick = hostmask
		return
	}
	nick = nickParts[0]

	userHostParts := strings.SplitN(nickParts[1], "@", 2)
	if len(userHostParts) < 2 {
		user = nickParts[1]
		return
	}
	user = userHostParts[0]
	host = userHostParts[1]

	return
}

// FormatHostmask formats a hostmask
func FormatHostmask(nick, user, host string) string {
	return nick + "!" + user + "@" + host
}
