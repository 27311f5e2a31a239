package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/latoulicious/spoticord/internal/config"
	"github.com/latoulicious/spoticord/internal/gateway"
	"github.com/latoulicious/spoticord/pkg/database"
	"github.com/latoulicious/spoticord/pkg/metrics"
)

// UserSessions tears down whatever playback a user has running.
type UserSessions interface {
	DestroyUser(ctx context.Context, userID string) error
}

// CoreCommands implements link, unlink, rename and help.
type CoreCommands struct {
	music UserSessions
}

func NewCoreCommands(music UserSessions) *CoreCommands {
	return &CoreCommands{music: music}
}

// Register adds the core commands to the emitter.
func (c *CoreCommands) Register(e *CommandEmitter) error {
	return errors.Join(
		e.AddCommandHandler("link", c.Link),
		e.AddCommandHandler("unlink", c.Unlink),
		e.AddCommandHandler("rename", c.Rename, "name"),
		e.AddCommandHandler("help", c.Help, "h"),
	)
}

// Link sends the author a private link to connect their Spotify account.
func (c *CoreCommands) Link(ctx context.Context, e *CommandEvent) error {
	userID := e.AuthorID()

	_, err := e.DB.GetToken(ctx, userID)
	switch {
	case err == nil:
		return e.Send(infoEmbed("You have already linked your Spotify account."))
	case !errors.Is(err, database.ErrTokenNotFound):
		return fmt.Errorf("get token: %w", err)
	}

	linkID, created, err := e.DB.CreateLink(ctx, userID)
	if err != nil {
		return fmt.Errorf("initialize link: %w", err)
	}
	metrics.LinksStarted.Inc()

	baseURL := e.Config.Get(config.KeySpotifyRedirectURL)
	if baseURL == "" {
		baseURL = config.DefaultRedirectURL
	}

	err = e.SendDirect(linkEmbed(baseURL+linkID, e.Config.Prefix()))
	if errors.Is(err, gateway.ErrDirectMessagesClosed) {
		// Drop the undelivered link so the user can retry after opening DMs.
		// A concurrent link call owns a token it created and may have delivered it.
		if created {
			if derr := e.DB.DeleteToken(ctx, userID); derr != nil {
				return fmt.Errorf("discard undelivered link: %w", derr)
			}
		}
		return e.Send(errorEmbed("You must allow direct messages from server members to use this command\n(You can disable it afterwards)"))
	}
	if err != nil {
		return fmt.Errorf("send link: %w", err)
	}
	return nil
}

// Unlink stops the author's playback and removes their link token.
func (c *CoreCommands) Unlink(ctx context.Context, e *CommandEvent) error {
	userID := e.AuthorID()

	_, err := e.DB.GetToken(ctx, userID)
	if errors.Is(err, database.ErrTokenNotFound) {
		return e.Send(errorEmbed("You cannot unlink your Spotify account if you haven't linked one."))
	}
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	// Playback must be gone before the credentials it runs on.
	if err := c.music.DestroyUser(ctx, userID); err != nil {
		return fmt.Errorf("destroy user session: %w", err)
	}
	if err := e.DB.DeleteToken(ctx, userID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	return e.Send(infoEmbed("Successfully unlinked your Spotify account"))
}

// Rename sets the Spotify device name shown for the author's session.
func (c *CoreCommands) Rename(ctx context.Context, e *CommandEvent) error {
	name := strings.Join(e.Args, " ")

	if strings.TrimSpace(name) == "" {
		return e.Send(errorEmbed("An empty device name is not allowed"))
	}
	if utf8.RuneCountInString(name) > database.MaxDeviceNameLength {
		return e.Send(errorEmbed(fmt.Sprintf("Device name may not be longer than %d characters", database.MaxDeviceNameLength)))
	}

	if err := e.DB.SetDeviceName(ctx, e.AuthorID(), name); err != nil {
		return fmt.Errorf("set device name: %w", err)
	}

	return e.Send(infoEmbed(fmt.Sprintf("Successfully changed the Spotify device name to **%s**", Escape(name))))
}

// Help replies with links to the documentation and source.
func (c *CoreCommands) Help(_ context.Context, e *CommandEvent) error {
	return e.Send(helpEmbed(e.Config.Prefix()))
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	`~`, `\~`,
	"`", "\\`",
)

// Escape backslash-escapes Discord markdown control characters.
func Escape(text string) string {
	return markdownEscaper.Replace(text)
}
