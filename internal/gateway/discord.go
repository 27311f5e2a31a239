// Package gateway wraps the discordgo session: login, readiness signalling and
// outbound embeds with typed delivery outcomes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/spoticord/pkg/logging"
)

// ErrDirectMessagesClosed means the recipient does not accept direct messages
// from server members. It is a user setting, not a transport failure.
var ErrDirectMessagesClosed = errors.New("recipient does not accept direct messages")

// Intents the bot identifies with.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentMessageContent

// Identity is what the gateway learns about the bot on READY.
type Identity struct {
	UserID string
	Shards int
}

// Discord is the gateway connection.
type Discord struct {
	session *discordgo.Session
	log     logging.Logger

	readyOnce sync.Once
	ready     chan struct{}
	identity  Identity
}

// New creates a session for the bot token. No connection is made until Login.
func New(token string, log logging.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = Intents

	d := &Discord{
		session: session,
		log:     log.With(logging.Component("gateway")),
		ready:   make(chan struct{}),
	}
	session.AddHandler(d.onReady)
	return d, nil
}

func (d *Discord) onReady(s *discordgo.Session, r *discordgo.Ready) {
	d.readyOnce.Do(func() {
		d.identity = Identity{UserID: r.User.ID, Shards: max(s.ShardCount, 1)}
		d.log.Info("gateway ready", logging.String("user", r.User.Username), logging.Int("guilds", len(r.Guilds)))
		close(d.ready)
	})
}

// Session exposes the underlying discordgo session.
func (d *Discord) Session() *discordgo.Session {
	return d.session
}

// AddHandler registers a discordgo event handler.
func (d *Discord) AddHandler(handler interface{}) func() {
	return d.session.AddHandler(handler)
}

// Login opens the websocket connection.
func (d *Discord) Login(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- d.session.Open() }()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("open discord session: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once the first READY event arrives.
func (d *Discord) Ready() <-chan struct{} {
	return d.ready
}

// Identity returns the bot identity; valid after Ready is closed.
func (d *Discord) Identity() Identity {
	<-d.ready
	return d.identity
}

// Close disconnects from the gateway.
func (d *Discord) Close() error {
	return d.session.Close()
}

// SendEmbed posts an embed to a channel.
func (d *Discord) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	_, err := d.session.ChannelMessageSendEmbed(channelID, embed)
	return err
}

// SendDirectEmbed posts an embed to a user's DM channel. A refusal by the
// recipient is reported as ErrDirectMessagesClosed.
func (d *Discord) SendDirectEmbed(userID string, embed *discordgo.MessageEmbed) error {
	channel, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return ClassifyDirectMessageError(err)
	}
	_, err = d.session.ChannelMessageSendEmbed(channel.ID, embed)
	return ClassifyDirectMessageError(err)
}

// ClassifyDirectMessageError maps Discord's "cannot send messages to this
// user" API error onto ErrDirectMessagesClosed.
func ClassifyDirectMessageError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil &&
		restErr.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser {
		return fmt.Errorf("%w: %v", ErrDirectMessagesClosed, err)
	}
	return err
}
