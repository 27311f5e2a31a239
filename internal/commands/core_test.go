package commands

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/spoticord/pkg/logging"
)

type coreFixture struct {
	emitter   *CommandEmitter
	store     *memStore
	messenger *fakeMessenger
	calls     *callLog
}

func newCoreFixture(t *testing.T) *coreFixture {
	t.Helper()
	calls := &callLog{}
	store := newMemStore(calls)
	messenger := &fakeMessenger{}
	emitter := NewCommandEmitter(testConfig(t), store, messenger, logging.NullLogger())
	require.NoError(t, NewCoreCommands(&fakeMusic{log: calls}).Register(emitter))
	return &coreFixture{emitter: emitter, store: store, messenger: messenger, calls: calls}
}

func (f *coreFixture) run(t *testing.T, userID, command string, args ...string) {
	t.Helper()
	require.True(t, f.emitter.Emit(command, args, guildMessage(userID, "")))
	f.emitter.Wait()
}

func TestCoreCommands_Registered(t *testing.T) {
	f := newCoreFixture(t)
	assert.Equal(t, []string{"help", "link", "rename", "unlink"}, f.emitter.Commands())

	for alias, want := range map[string]string{"name": "rename", "h": "help"} {
		got, ok := f.emitter.Resolve(alias)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	// Registering twice fails on the first duplicate.
	assert.ErrorIs(t, NewCoreCommands(&fakeMusic{log: f.calls}).Register(f.emitter), ErrCommandExists)
}

func TestLink_SendsPrivateLink(t *testing.T) {
	f := newCoreFixture(t)
	f.run(t, "u1", "link")

	sent := f.messenger.all()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].direct)
	assert.Equal(t, "u1", sent[0].target)
	assert.Equal(t, ColorInfo, sent[0].embed.Color)
	assert.Contains(t, sent[0].embed.Description, "(https://link.example.com/link-1)")
	assert.Equal(t, "This message was requested by the +link command", sent[0].embed.Footer.Text)
}

func TestLink_TwiceCreatesOneToken(t *testing.T) {
	f := newCoreFixture(t)
	f.run(t, "u1", "link")
	f.run(t, "u1", "link")

	assert.Equal(t, 1, f.store.tokenCount())
	assert.Equal(t, []string{"store.CreateLink(u1)"}, f.calls.all())

	sent := f.messenger.all()
	require.Len(t, sent, 2)
	assert.False(t, sent[1].direct)
	assert.Equal(t, "c1", sent[1].target)
	assert.Equal(t, "You have already linked your Spotify account.", sent[1].embed.Description)
	assert.Equal(t, ColorInfo, sent[1].embed.Color)
}

func TestLink_DirectMessagesClosed(t *testing.T) {
	f := newCoreFixture(t)
	f.messenger.directErr = errDMClosed

	f.run(t, "u1", "link")

	sent := f.messenger.all()
	require.Len(t, sent, 1)
	assert.False(t, sent[0].direct)
	assert.Equal(t, ColorError, sent[0].embed.Color)
	assert.True(t, strings.HasPrefix(sent[0].embed.Description, "You must allow direct messages"))

	// The undelivered link is discarded so the user can retry.
	assert.Zero(t, f.store.tokenCount())
}

func TestLink_DirectMessagesClosedKeepsConcurrentLink(t *testing.T) {
	f := newCoreFixture(t)
	f.messenger.directErr = errDMClosed
	f.store.concurrentLink = true

	f.run(t, "u1", "link")

	sent := f.messenger.all()
	require.Len(t, sent, 1)
	assert.Equal(t, ColorError, sent[0].embed.Color)

	// The token belongs to the other call, so it survives.
	assert.Equal(t, 1, f.store.tokenCount())
	assert.NotContains(t, f.calls.all(), "store.DeleteToken(u1)")
}

func TestLink_OtherDeliveryErrorIsNotReportedToChannel(t *testing.T) {
	f := newCoreFixture(t)
	f.messenger.directErr = errors.New("gateway timeout")

	f.run(t, "u1", "link")

	assert.Empty(t, f.messenger.all())
	assert.Equal(t, 1, f.store.tokenCount())
}

func TestUnlink_NotLinked(t *testing.T) {
	f := newCoreFixture(t)
	f.run(t, "u1", "unlink")

	sent := f.messenger.all()
	require.Len(t, sent, 1)
	assert.Equal(t, ColorError, sent[0].embed.Color)
	assert.Equal(t, "You cannot unlink your Spotify account if you haven't linked one.", sent[0].embed.Description)
	assert.Empty(t, f.calls.all())
}

func TestUnlink_DestroysSessionBeforeDeletingToken(t *testing.T) {
	f := newCoreFixture(t)
	_, err := f.store.InitializeLink(context.Background(), "u1")
	require.NoError(t, err)

	f.run(t, "u1", "unlink")

	assert.Equal(t, []string{
		"store.InitializeLink(u1)",
		"music.DestroyUser(u1)",
		"store.DeleteToken(u1)",
	}, f.calls.all())
	assert.Zero(t, f.store.tokenCount())

	sent := f.messenger.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "Successfully unlinked your Spotify account", sent[0].embed.Description)
}

func TestUnlink_StoreErrorIsHandlerFailure(t *testing.T) {
	f := newCoreFixture(t)
	f.store.getErr = errors.New("connection reset")

	f.run(t, "u1", "unlink")

	assert.Empty(t, f.messenger.all())
	assert.Empty(t, f.calls.all())
}

func TestRename(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantColor int
		wantText  string
		wantSaved string
	}{
		{
			name:      "no arguments",
			args:      nil,
			wantColor: ColorError,
			wantText:  "An empty device name is not allowed",
		},
		{
			name:      "blank arguments",
			args:      []string{" ", ""},
			wantColor: ColorError,
			wantText:  "An empty device name is not allowed",
		},
		{
			name:      "tab only",
			args:      []string{"\t"},
			wantColor: ColorError,
			wantText:  "An empty device name is not allowed",
		},
		{
			name:      "seventeen characters",
			args:      []string{"abcdefghijklmnopq"},
			wantColor: ColorError,
			wantText:  "Device name may not be longer than 16 characters",
		},
		{
			name:      "joined arguments over limit",
			args:      []string{"abcdefgh", "ijklmnop"},
			wantColor: ColorError,
			wantText:  "Device name may not be longer than 16 characters",
		},
		{
			name:      "exactly sixteen characters",
			args:      []string{"abcdefghijklmnop"},
			wantColor: ColorInfo,
			wantText:  "Successfully changed the Spotify device name to **abcdefghijklmnop**",
			wantSaved: "abcdefghijklmnop",
		},
		{
			name:      "markdown is escaped in reply",
			args:      []string{"my_*cool*", "pc"},
			wantColor: ColorInfo,
			wantText:  `Successfully changed the Spotify device name to **my\_\*cool\* pc**`,
			wantSaved: "my_*cool* pc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCoreFixture(t)
			f.run(t, "u1", "name", tt.args...)

			sent := f.messenger.all()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.wantColor, sent[0].embed.Color)
			assert.Equal(t, tt.wantText, sent[0].embed.Description)

			saved, err := f.store.GetDeviceName(context.Background(), "u1")
			if tt.wantSaved == "" {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSaved, saved)
		})
	}
}

func TestHelp(t *testing.T) {
	f := newCoreFixture(t)
	f.run(t, "u1", "H")

	sent := f.messenger.all()
	require.Len(t, sent, 1)
	assert.Equal(t, ColorSuccess, sent[0].embed.Color)
	assert.Equal(t, "Spoticord Help", sent[0].embed.Author.Name)
	require.Len(t, sent[0].embed.Fields, 1)
	assert.Contains(t, sent[0].embed.Fields[0].Value, "`+link`")
}

func TestEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{`a\b`, `a\\b`},
		{"*bold*", `\*bold\*`},
		{"snake_case", `snake\_case`},
		{"~~strike~~", `\~\~strike\~\~`},
		{"`code`", "\\`code\\`"},
		{`\*`, `\\\*`},
		{"a*b_c~d\\`e\\f", "a\\*b\\_c\\~d\\\\\\`e\\\\f"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Escape(tt.in))
		})
	}
}
