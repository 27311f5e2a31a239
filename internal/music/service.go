// Package music tracks per-guild players and which user each one belongs to,
// and hands voice sessions to the audio nodes.
package music

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/spoticord/internal/audio"
	"github.com/latoulicious/spoticord/pkg/logging"
)

var (
	ErrNotInitialized = errors.New("music service not initialized")
	ErrGuildBusy      = errors.New("guild already has a player for another user")
	ErrUserBusy       = errors.New("user already has a player in another guild")
)

// NodeSender is the part of the audio manager the service uses.
type NodeSender interface {
	Send(guildID string, payload any) error
	Release(guildID string)
}

// VoiceGateway joins and leaves voice channels and delivers voice events.
// *discordgo.Session satisfies it.
type VoiceGateway interface {
	ChannelVoiceJoinManual(guildID, channelID string, mute, deaf bool) error
	AddHandler(handler interface{}) func()
}

// Player is one guild's playback session.
type Player struct {
	GuildID   string
	ChannelID string
	UserID    string
	SessionID string
	Server    *audio.VoiceServer
	CreatedAt time.Time
}

// Service owns players (by guild) and user bindings (user to guild).
type Service struct {
	voice VoiceGateway
	log   logging.Logger

	mu        sync.RWMutex
	nodes     NodeSender
	botUserID string
	players   map[string]*Player
	users     map[string]string
	detach    []func()
}

func NewService(voice VoiceGateway, log logging.Logger) *Service {
	return &Service{
		voice:   voice,
		log:     log.With(logging.Component("music")),
		players: make(map[string]*Player),
		users:   make(map[string]string),
	}
}

// Initialize attaches the audio nodes and starts listening for the bot's
// voice events. botUserID identifies the bot's own voice state updates.
func (s *Service) Initialize(nodes NodeSender, botUserID string) error {
	if nodes == nil {
		return fmt.Errorf("initialize music service: nil node manager")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodes != nil {
		return nil
	}

	s.nodes = nodes
	s.botUserID = botUserID
	s.detach = append(s.detach,
		s.voice.AddHandler(s.onVoiceStateUpdate),
		s.voice.AddHandler(s.onVoiceServerUpdate),
	)
	s.log.Info("music service initialized")
	return nil
}

// Initialized reports whether Initialize has run.
func (s *Service) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes != nil
}

// JoinChannel creates the guild player for userID and joins the voice channel.
func (s *Service) JoinChannel(_ context.Context, guildID, channelID, userID string) (*Player, error) {
	s.mu.Lock()
	if s.nodes == nil {
		s.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if p, ok := s.players[guildID]; ok && p.UserID != userID {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrGuildBusy, guildID)
	}
	if g, ok := s.users[userID]; ok && g != guildID {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUserBusy, userID)
	}

	p, ok := s.players[guildID]
	if !ok {
		p = &Player{GuildID: guildID, UserID: userID, CreatedAt: time.Now()}
		s.players[guildID] = p
		s.users[userID] = guildID
	}
	p.ChannelID = channelID
	snapshot := *p
	s.mu.Unlock()

	if err := s.voice.ChannelVoiceJoinManual(guildID, channelID, false, true); err != nil {
		s.remove(guildID)
		return nil, fmt.Errorf("join voice channel: %w", err)
	}

	s.log.Info("joined voice channel",
		logging.String("guild", guildID),
		logging.String("channel", channelID),
		logging.String("user", userID))
	return &snapshot, nil
}

// DestroyUser tears down the player bound to userID. Unbound users and an
// uninitialized service are no-ops.
func (s *Service) DestroyUser(_ context.Context, userID string) error {
	s.mu.RLock()
	nodes := s.nodes
	guildID, bound := s.users[userID]
	s.mu.RUnlock()

	if nodes == nil || !bound {
		return nil
	}

	var errs []error
	if err := nodes.Send(guildID, audio.NewDestroy(guildID)); err != nil && !errors.Is(err, audio.ErrNoConnectedNode) {
		errs = append(errs, fmt.Errorf("destroy player: %w", err))
	}
	nodes.Release(guildID)

	if err := s.voice.ChannelVoiceJoinManual(guildID, "", false, true); err != nil {
		errs = append(errs, fmt.Errorf("leave voice channel: %w", err))
	}

	s.remove(guildID)
	s.log.Info("destroyed player", logging.String("guild", guildID), logging.String("user", userID))
	return errors.Join(errs...)
}

// Player returns a copy of the guild's player.
func (s *Service) Player(guildID string) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[guildID]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// GuildOf returns the guild a user is bound to.
func (s *Service) GuildOf(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.users[userID]
	return g, ok
}

func (s *Service) remove(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[guildID]; ok {
		delete(s.users, p.UserID)
		delete(s.players, guildID)
	}
}

func (s *Service) onVoiceStateUpdate(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e == nil || e.VoiceState == nil {
		return
	}

	s.mu.Lock()
	if e.UserID != s.botUserID {
		s.mu.Unlock()
		return
	}
	p, ok := s.players[e.GuildID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.ChannelID == "" {
		// Disconnected from voice by someone else.
		delete(s.users, p.UserID)
		delete(s.players, e.GuildID)
		nodes := s.nodes
		s.mu.Unlock()
		nodes.Release(e.GuildID)
		s.log.Info("player disconnected from voice", logging.String("guild", e.GuildID))
		return
	}
	p.ChannelID = e.ChannelID
	p.SessionID = e.SessionID
	s.mu.Unlock()

	s.forward(e.GuildID)
}

func (s *Service) onVoiceServerUpdate(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	if e == nil {
		return
	}

	s.mu.Lock()
	p, ok := s.players[e.GuildID]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.Server = &audio.VoiceServer{Token: e.Token, GuildID: e.GuildID, Endpoint: e.Endpoint}
	s.mu.Unlock()

	s.forward(e.GuildID)
}

// forward sends voiceUpdate once both the session id and server are known.
func (s *Service) forward(guildID string) {
	s.mu.RLock()
	p, ok := s.players[guildID]
	if !ok || p.SessionID == "" || p.Server == nil {
		s.mu.RUnlock()
		return
	}
	update := audio.NewVoiceUpdate(guildID, p.SessionID, *p.Server)
	nodes := s.nodes
	s.mu.RUnlock()

	if err := nodes.Send(guildID, update); err != nil {
		s.log.Error("failed to forward voice update", logging.String("guild", guildID), logging.Error(err))
	}
}

// Close detaches the voice event handlers.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fn := range s.detach {
		fn()
	}
	s.detach = nil
}
