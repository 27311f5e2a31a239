package handlers

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/spoticord/pkg/logging"
)

// Emitter dispatches a parsed command; it reports whether the command exists.
type Emitter interface {
	Emit(command string, args []string, msg *discordgo.Message) bool
}

// MessageRouter turns prefixed guild messages into command dispatches.
type MessageRouter struct {
	prefix  string
	emitter Emitter
	log     logging.Logger
}

func NewMessageRouter(prefix string, emitter Emitter, log logging.Logger) *MessageRouter {
	return &MessageRouter{
		prefix:  prefix,
		emitter: emitter,
		log:     log.With(logging.Component("router")),
	}
}

// MessageHandler is the discordgo MessageCreate callback.
func (r *MessageRouter) MessageHandler(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	// Ignore all messages created by the bot itself
	if s != nil && s.State != nil && s.State.User != nil && m.Author != nil && m.Author.ID == s.State.User.ID {
		return
	}
	r.Route(m.Message)
}

// Route dispatches msg if it is a command. It returns true when a registered
// command was found.
func (r *MessageRouter) Route(msg *discordgo.Message) bool {
	if msg.GuildID == "" || msg.Author == nil || msg.Author.Bot {
		return false
	}

	command, args, ok := ParseCommand(msg.Content, r.prefix)
	if !ok {
		return false
	}

	if !r.emitter.Emit(command, args, msg) {
		r.log.Debug("unknown command", logging.String("command", command), logging.String("user", msg.Author.ID))
		return false
	}
	return true
}

// ParseCommand strips prefix from content and splits the rest on whitespace.
// The command must follow the prefix directly and is lower-cased.
func ParseCommand(content, prefix string) (command string, args []string, ok bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	rest := content[len(prefix):]
	if rest == "" {
		return "", nil, false
	}
	if first, _ := utf8.DecodeRuneInString(rest); unicode.IsSpace(first) {
		return "", nil, false
	}

	fields := strings.Fields(rest)
	return strings.ToLower(fields[0]), fields[1:], true
}
