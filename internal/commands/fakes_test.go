package commands

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/spoticord/internal/config"
	"github.com/latoulicious/spoticord/internal/gateway"
	"github.com/latoulicious/spoticord/pkg/database"
)

// callLog records calls across fakes so tests can assert ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// memStore is an in-memory database.Store.
type memStore struct {
	log *callLog

	mu      sync.Mutex
	tokens  map[string]*database.LinkToken
	devices map[string]string
	nextID  int
	getErr  error

	concurrentLink bool
}

func newMemStore(log *callLog) *memStore {
	return &memStore{
		log:     log,
		tokens:  make(map[string]*database.LinkToken),
		devices: make(map[string]string),
	}
}

func (s *memStore) Initialize(context.Context) error { return nil }
func (s *memStore) Ping(context.Context) error       { return nil }
func (s *memStore) Close() error                     { return nil }

func (s *memStore) GetToken(_ context.Context, userID string) (*database.LinkToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	t, ok := s.tokens[userID]
	if !ok {
		return nil, database.ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) InitializeLink(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.add("store.InitializeLink(%s)", userID)
	id, _ := s.createLocked(userID)
	return id, nil
}

func (s *memStore) CreateLink(_ context.Context, userID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.add("store.CreateLink(%s)", userID)
	if s.concurrentLink {
		// Another link call for the same user inserted the token first.
		s.createLocked(userID)
	}
	id, created := s.createLocked(userID)
	return id, created, nil
}

func (s *memStore) createLocked(userID string) (string, bool) {
	if t, ok := s.tokens[userID]; ok {
		return t.LinkID, false
	}
	s.nextID++
	id := fmt.Sprintf("link-%d", s.nextID)
	s.tokens[userID] = &database.LinkToken{UserID: userID, LinkID: id, CreatedAt: time.Now()}
	return id, true
}

func (s *memStore) GetLink(_ context.Context, linkID string) (*database.LinkToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.LinkID == linkID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, database.ErrLinkNotFound
}

func (s *memStore) CompleteLink(context.Context, string, database.Credentials) error { return nil }

func (s *memStore) UpdateCredentials(context.Context, string, database.Credentials) error {
	return nil
}

func (s *memStore) DeleteToken(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.add("store.DeleteToken(%s)", userID)
	delete(s.tokens, userID)
	return nil
}

func (s *memStore) PurgePendingLinks(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *memStore) SetDeviceName(_ context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.add("store.SetDeviceName(%s)", userID)
	s.devices[userID] = name
	return nil
}

func (s *memStore) GetDeviceName(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.devices[userID]
	if !ok {
		return "", database.ErrDeviceNameNotFound
	}
	return name, nil
}

func (s *memStore) tokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

type sentEmbed struct {
	target string
	direct bool
	embed  *discordgo.MessageEmbed
}

// fakeMessenger records outgoing embeds.
type fakeMessenger struct {
	mu        sync.Mutex
	sent      []sentEmbed
	directErr error
}

func (m *fakeMessenger) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEmbed{target: channelID, embed: embed})
	return nil
}

func (m *fakeMessenger) SendDirectEmbed(userID string, embed *discordgo.MessageEmbed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.directErr != nil {
		return m.directErr
	}
	m.sent = append(m.sent, sentEmbed{target: userID, direct: true, embed: embed})
	return nil
}

func (m *fakeMessenger) all() []sentEmbed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentEmbed(nil), m.sent...)
}

// fakeMusic records DestroyUser calls.
type fakeMusic struct {
	log *callLog
}

func (f *fakeMusic) DestroyUser(_ context.Context, userID string) error {
	f.log.add("music.DestroyUser(%s)", userID)
	return nil
}

var errDMClosed = fmt.Errorf("%w: 50007", gateway.ErrDirectMessagesClosed)

func testConfig(t *testing.T) *config.Manager {
	t.Helper()
	cfg, err := config.New(config.Config{
		Token:               "token",
		SpotifyClientID:     "id",
		SpotifyClientSecret: "secret",
		SpotifyRedirectURL:  "https://link.example.com/",
	})
	require.NoError(t, err)
	return cfg
}

func guildMessage(userID, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   content,
		Author:    &discordgo.User{ID: userID},
	}
}
