package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/spoticord/internal/config"
	"github.com/latoulicious/spoticord/pkg/database"
	"github.com/latoulicious/spoticord/pkg/logging"
	"github.com/latoulicious/spoticord/pkg/metrics"
)

var (
	ErrCommandExists      = errors.New("command already registered")
	ErrInvalidCommandName = errors.New("invalid command name")
)

// Handler runs one command invocation.
type Handler func(ctx context.Context, e *CommandEvent) error

// Messenger delivers embeds to channels and users.
type Messenger interface {
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) error
	SendDirectEmbed(userID string, embed *discordgo.MessageEmbed) error
}

// CommandEvent is the per-invocation context handed to a Handler.
type CommandEvent struct {
	Command string // canonical name
	Args    []string
	Message *discordgo.Message
	Config  *config.Manager
	DB      database.Store

	messenger Messenger
}

// AuthorID returns the id of the user who issued the command.
func (e *CommandEvent) AuthorID() string {
	if e.Message == nil || e.Message.Author == nil {
		return ""
	}
	return e.Message.Author.ID
}

// Send replies in the channel the command came from.
func (e *CommandEvent) Send(embed *discordgo.MessageEmbed) error {
	return e.messenger.SendEmbed(e.Message.ChannelID, embed)
}

// SendDirect messages the command author privately. A refusal by the user is
// reported as gateway.ErrDirectMessagesClosed.
func (e *CommandEvent) SendDirect(embed *discordgo.MessageEmbed) error {
	return e.messenger.SendDirectEmbed(e.AuthorID(), embed)
}

type command struct {
	name    string
	aliases []string
	handler Handler
}

// CommandEmitter maps command names and aliases to handlers and runs each
// invocation on its own goroutine.
type CommandEmitter struct {
	config    *config.Manager
	db        database.Store
	messenger Messenger
	log       logging.Logger

	mu       sync.RWMutex
	commands map[string]*command // canonical name -> command
	aliases  map[string]string   // alias -> canonical name

	closed   bool
	inflight sync.WaitGroup
}

// NewCommandEmitter creates an empty registry bound to the shared config and store.
func NewCommandEmitter(cfg *config.Manager, db database.Store, messenger Messenger, log logging.Logger) *CommandEmitter {
	return &CommandEmitter{
		config:    cfg,
		db:        db,
		messenger: messenger,
		log:       log.With(logging.Component("commands")),
		commands:  make(map[string]*command),
		aliases:   make(map[string]string),
	}
}

// AddCommandHandler registers handler under name and aliases. Names are
// case-insensitive. Registering a name or alias that is already taken is
// rejected with ErrCommandExists and leaves the registry unchanged.
func (ce *CommandEmitter) AddCommandHandler(name string, handler Handler, aliases ...string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidCommandName, name)
	}
	if handler == nil {
		return fmt.Errorf("%w: %q has no handler", ErrInvalidCommandName, name)
	}

	ce.mu.Lock()
	defer ce.mu.Unlock()

	if ce.taken(name) {
		return fmt.Errorf("%w: %q", ErrCommandExists, name)
	}

	seen := map[string]bool{name: true}
	cmd := &command{name: name, handler: handler}
	for _, alias := range aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias == "" || seen[alias] {
			continue
		}
		if ce.taken(alias) {
			return fmt.Errorf("%w: alias %q", ErrCommandExists, alias)
		}
		seen[alias] = true
		cmd.aliases = append(cmd.aliases, alias)
	}

	ce.commands[name] = cmd
	for _, alias := range cmd.aliases {
		ce.aliases[alias] = name
	}

	ce.log.Debug("registered command", logging.String("command", name), logging.Any("aliases", cmd.aliases))
	return nil
}

func (ce *CommandEmitter) taken(key string) bool {
	_, isName := ce.commands[key]
	_, isAlias := ce.aliases[key]
	return isName || isAlias
}

func (ce *CommandEmitter) lookup(name string) (*command, bool) {
	ce.mu.RLock()
	defer ce.mu.RUnlock()

	name = strings.ToLower(name)
	if canonical, ok := ce.aliases[name]; ok {
		name = canonical
	}
	cmd, ok := ce.commands[name]
	return cmd, ok
}

// Resolve returns the canonical name for a command or alias.
func (ce *CommandEmitter) Resolve(name string) (string, bool) {
	cmd, ok := ce.lookup(name)
	if !ok {
		return "", false
	}
	return cmd.name, true
}

// Commands returns the registered canonical names, sorted.
func (ce *CommandEmitter) Commands() []string {
	ce.mu.RLock()
	defer ce.mu.RUnlock()

	names := make([]string, 0, len(ce.commands))
	for name := range ce.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Emit dispatches a parsed command. Unknown commands are ignored and Emit
// returns false. Known commands run asynchronously; their failures are logged
// and never reach the caller.
func (ce *CommandEmitter) Emit(name string, args []string, msg *discordgo.Message) bool {
	cmd, ok := ce.lookup(name)
	if !ok {
		return false
	}

	event := &CommandEvent{
		Command:   cmd.name,
		Args:      args,
		Message:   msg,
		Config:    ce.config,
		DB:        ce.db,
		messenger: ce.messenger,
	}

	// Add runs under the lock Close takes, so it never races Wait.
	ce.mu.RLock()
	if ce.closed {
		ce.mu.RUnlock()
		ce.log.Debug("dropping command during shutdown", logging.String("command", cmd.name))
		return false
	}
	ce.inflight.Add(1)
	ce.mu.RUnlock()

	metrics.CommandsDispatched.WithLabelValues(cmd.name).Inc()
	go ce.run(cmd, event)
	return true
}

func (ce *CommandEmitter) run(cmd *command, event *CommandEvent) {
	defer ce.inflight.Done()

	start := time.Now()
	log := ce.log.With(logging.String("command", cmd.name), logging.String("user", event.AuthorID()))

	err := invoke(cmd.handler, event)
	metrics.CommandDuration.WithLabelValues(cmd.name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.CommandFailures.WithLabelValues(cmd.name).Inc()
		log.Error("command failed", logging.Error(err))
		return
	}
	log.Debug("command completed", logging.Duration("took", time.Since(start)))
}

func invoke(handler Handler, event *CommandEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(context.Background(), event)
}

// Wait blocks until every dispatched handler has returned.
func (ce *CommandEmitter) Wait() {
	ce.inflight.Wait()
}

// Close stops accepting commands and waits for in-flight handlers. Emit
// returns false afterwards.
func (ce *CommandEmitter) Close() {
	ce.mu.Lock()
	ce.closed = true
	ce.mu.Unlock()
	ce.inflight.Wait()
}
