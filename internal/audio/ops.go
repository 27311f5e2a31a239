package audio

import "encoding/json"

// Outbound operations understood by Lavalink v3 nodes.

// VoiceServer is the raw VOICE_SERVER_UPDATE payload forwarded to the node.
type VoiceServer struct {
	Token    string `json:"token"`
	GuildID  string `json:"guild_id"`
	Endpoint string `json:"endpoint"`
}

// VoiceUpdate hands the node the voice session it should connect to.
type VoiceUpdate struct {
	Op        string      `json:"op"`
	GuildID   string      `json:"guildId"`
	SessionID string      `json:"sessionId"`
	Event     VoiceServer `json:"event"`
}

func NewVoiceUpdate(guildID, sessionID string, event VoiceServer) VoiceUpdate {
	return VoiceUpdate{Op: "voiceUpdate", GuildID: guildID, SessionID: sessionID, Event: event}
}

// Destroy removes the guild's player from the node.
type Destroy struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
}

func NewDestroy(guildID string) Destroy {
	return Destroy{Op: "destroy", GuildID: guildID}
}

// Stats is the periodic node load report.
type Stats struct {
	Players        int   `json:"players"`
	PlayingPlayers int   `json:"playingPlayers"`
	Uptime         int64 `json:"uptime"`
	Memory         struct {
		Free       int64 `json:"free"`
		Used       int64 `json:"used"`
		Allocated  int64 `json:"allocated"`
		Reservable int64 `json:"reservable"`
	} `json:"memory"`
	CPU struct {
		Cores        int     `json:"cores"`
		SystemLoad   float64 `json:"systemLoad"`
		LavalinkLoad float64 `json:"lavalinkLoad"`
	} `json:"cpu"`
}

// Event is an inbound player frame (playerUpdate or event) for one guild.
type Event struct {
	Op      string          `json:"op"`
	Type    string          `json:"type,omitempty"`
	GuildID string          `json:"guildId"`
	Raw     json.RawMessage `json:"-"`
}

type inbound struct {
	Op      string `json:"op"`
	Type    string `json:"type"`
	GuildID string `json:"guildId"`
}
