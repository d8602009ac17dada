/*
Package irc implements the wire protocol side of a small Internet Relay Chat
(IRC) server: line framing, message parsing with parse-time validation, and
the numeric reply table.

# Framing

Clients send CRLF-terminated lines. Parse takes a session's accumulated input
buffer and returns every complete line as a Message together with the number
of bytes consumed; a partial line at the end of the buffer is left for the
next read:

	msgs, n := irc.Parse(buf)
	buf = buf[n:]

# Messages

A line has the form

	[:prefix] COMMAND [param ...] [:trailing param]

A parameter beginning with ':' starts the trailing parameter, which runs to
the end of the line and may contain spaces.

Every message carries a recognized Command (CmdUnknown for anything the
server does not implement) and an Err numeric set when validation fails:

  - PASS and JOIN without parameters (ERR_NEEDMOREPARAMS)
  - NICK without a nickname or with an invalid one (ERR_NONICKNAMEGIVEN,
    ERR_ERRONEUSNICKNAME)
  - USER with fewer than four parameters or a bad username
    (ERR_NEEDMOREPARAMS, ERR_INVALIDUSERNAME)
  - PRIVMSG without target or text (ERR_NORECIPIENT, ERR_NOTEXTTOSEND)
  - a prefix with no command (ERR_UNKNOWNCOMMAND)

Invalid lines are never dropped, so the dispatcher can answer each one with
the matching numeric.

# Supported Commands

NICK, USER, PASS, PRIVMSG, NOTICE, JOIN, TOPIC, PART, QUIT, PING, PONG, KICK,
INVITE, MODE, USERHOST, NAMES and CAP (acknowledged, no capabilities).

# Channel Modes

  - i (invite-only)
  - t (topic restriction)
  - k (channel key/password)
  - o (operator)
  - l (user limit)
*/
package irc
