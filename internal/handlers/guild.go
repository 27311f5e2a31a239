package handlers

import (
	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/spoticord/pkg/logging"
)

// GuildLogger logs the bot joining and leaving guilds.
type GuildLogger struct {
	log logging.Logger
}

func NewGuildLogger(log logging.Logger) *GuildLogger {
	return &GuildLogger{log: log.With(logging.Component("guilds"))}
}

// GuildCreateHandler fires for every guild on startup and for new joins.
func (g *GuildLogger) GuildCreateHandler(s *discordgo.Session, e *discordgo.GuildCreate) {
	if e == nil || e.Guild == nil {
		return
	}
	g.log.Info("guild available",
		logging.String("guild", e.ID),
		logging.String("name", e.Name),
		logging.Int("members", e.MemberCount))
}

// GuildDeleteHandler fires when the bot is removed or a guild goes unavailable.
func (g *GuildLogger) GuildDeleteHandler(s *discordgo.Session, e *discordgo.GuildDelete) {
	if e == nil || e.Guild == nil {
		return
	}
	if e.Unavailable {
		g.log.Warn("guild unavailable", logging.String("guild", e.ID))
		return
	}
	g.log.Info("left guild", logging.String("guild", e.ID))
}
