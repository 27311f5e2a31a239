package commands

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Embed colors. Every reply is one of these three classes.
const (
	ColorInfo    = 0x0773D6
	ColorError   = 0xD61516
	ColorSuccess = 0x43B581
)

const (
	spotifyLogoURL   = "https://spoticord.com/img/spotify-logo.png"
	spoticordLogoURL = "https://spoticord.com/img/spoticord-logo-clean.png"
)

func infoEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Description: description, Color: ColorInfo}
}

func errorEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Description: description, Color: ColorError}
}

// linkEmbed is the private message carrying the account link URL.
func linkEmbed(linkURL, prefix string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    "Link your Spotify account",
			IconURL: spotifyLogoURL,
		},
		Description: fmt.Sprintf("Go to [this link](%s) to connect your Spotify account.", linkURL),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("This message was requested by the %slink command", prefix),
		},
		Color: ColorInfo,
	}
}

func helpEmbed(prefix string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    "Spoticord Help",
			IconURL: spoticordLogoURL,
		},
		Title: "These following links might help you out",
		Description: "If you need help setting Spoticord up you can check out the **[Documentation](https://spoticord.com/documentation)** page on the Spoticord website.\n" +
			"(This bot is unofficial, so setup might differ from the official documentation)\n\n" +
			"If you want to build your own Spoticord you can check out the official [Github Repository](https://github.com/SpoticordMusic/Spoticord)",
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "Commands",
				Value: strings.Join([]string{
					fmt.Sprintf("• `%slink` - Link your Spotify account", prefix),
					fmt.Sprintf("• `%sunlink` - Unlink your Spotify account", prefix),
					fmt.Sprintf("• `%srename <name>` / `%sname <name>` - Change the Spotify device name", prefix, prefix),
					fmt.Sprintf("• `%shelp` / `%sh` - Show this help message", prefix, prefix),
				}, "\n"),
			},
		},
		Color: ColorSuccess,
	}
}
