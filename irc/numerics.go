package irc

// Numeric replies (RFC 1459 / RFC 2812) used by the server.
const (
	RPL_WELCOME  = 1
	RPL_YOURHOST = 2
	RPL_CREATED  = 3
	RPL_MYINFO   = 4
	RPL_ISUPPORT = 5

	RPL_UMODEIS       = 221
	RPL_USERHOST      = 302
	RPL_CHANNELMODEIS = 324
	RPL_CREATIONTIME  = 329
	RPL_NOTOPIC       = 331
	RPL_TOPIC         = 332
	RPL_TOPICWHOTIME  = 333
	RPL_INVITING      = 341
	RPL_NAMREPLY      = 353
	RPL_ENDOFNAMES    = 366
	RPL_MOTD          = 372
	RPL_MOTDSTART     = 375
	RPL_ENDOFMOTD     = 376

	ERR_NOSUCHNICK       = 401
	ERR_NOSUCHCHANNEL    = 403
	ERR_CANNOTSENDTOCHAN = 404
	ERR_NOORIGIN         = 409
	ERR_INVALIDCAPCMD    = 410
	ERR_NORECIPIENT      = 411
	ERR_NOTEXTTOSEND     = 412
	ERR_INPUTTOOLONG     = 417
	ERR_UNKNOWNCOMMAND   = 421
	ERR_NOMOTD           = 422
	ERR_NONICKNAMEGIVEN  = 431
	ERR_ERRONEUSNICKNAME = 432
	ERR_NICKNAMEINUSE    = 433
	ERR_USERNOTINCHANNEL = 441
	ERR_NOTONCHANNEL     = 442
	ERR_USERONCHANNEL    = 443
	ERR_NOTREGISTERED    = 451
	ERR_NEEDMOREPARAMS   = 461
	ERR_ALREADYREGISTRED = 462
	ERR_PASSWDMISMATCH   = 464
	ERR_INVALIDUSERNAME  = 468
	ERR_CHANNELISFULL    = 471
	ERR_UNKNOWNMODE      = 472
	ERR_INVITEONLYCHAN   = 473
	ERR_BADCHANNELKEY    = 475
	ERR_BADCHANMASK      = 476
	ERR_CHANOPRIVSNEEDED = 482
	ERR_UMODEUNKNOWNFLAG = 501
	ERR_USERSDONTMATCH   = 502
	ERR_CANTKICKSELF     = 499
)

// replyText holds the default trailing text for numerics that carry one.
var replyText = map[int]string{
	RPL_NOTOPIC:          "No topic is set",
	RPL_ENDOFNAMES:       "End of /NAMES list",
	RPL_ENDOFMOTD:        "End of /MOTD command",
	ERR_NOSUCHNICK:       "No such nick/channel",
	ERR_NOSUCHCHANNEL:    "No such channel",
	ERR_CANNOTSENDTOCHAN: "Cannot send to channel",
	ERR_NOORIGIN:         "No origin specified",
	ERR_INVALIDCAPCMD:    "Invalid CAP command",
	ERR_NORECIPIENT:      "No recipient given",
	ERR_NOTEXTTOSEND:     "No text to send",
	ERR_INPUTTOOLONG:     "Input line was too long",
	ERR_UNKNOWNCOMMAND:   "Unknown command",
	ERR_NOMOTD:           "MOTD File is missing",
	ERR_NONICKNAMEGIVEN:  "No nickname given",
	ERR_ERRONEUSNICKNAME: "Erroneous nickname",
	ERR_NICKNAMEINUSE:    "Nickname is already in use",
	ERR_USERNOTINCHANNEL: "They aren't on that channel",
	ERR_NOTONCHANNEL:     "You're not on that channel",
	ERR_USERONCHANNEL:    "is already on channel",
	ERR_NOTREGISTERED:    "You have not registered",
	ERR_NEEDMOREPARAMS:   "Not enough parameters",
	ERR_ALREADYREGISTRED: "You may not reregister",
	ERR_PASSWDMISMATCH:   "Password incorrect",
	ERR_INVALIDUSERNAME:  "Your username is not valid",
	ERR_CHANNELISFULL:    "Cannot join channel (+l)",
	ERR_UNKNOWNMODE:      "is unknown mode char to me",
	ERR_INVITEONLYCHAN:   "Cannot join channel (+i)",
	ERR_BADCHANNELKEY:    "Cannot join channel (+k)",
	ERR_BADCHANMASK:      "Bad Channel Mask",
	ERR_CHANOPRIVSNEEDED: "You're not channel operator",
	ERR_UMODEUNKNOWNFLAG: "Unknown MODE flag",
	ERR_USERSDONTMATCH:   "Cant change mode for other users",
	ERR_CANTKICKSELF:     "You cannot kick yourself",
}

// ReplyText returns the default trailing text for a numeric, or "".
func ReplyText(code int) string {
	return replyText[code]
}
