// Package event defines the normalized chat event emitted by every platform
// adapter. It is the only contract shared between adapters, the session
// orchestrator, and the client connection; an event is immutable once it has
// been handed to the session queue.
package event

// Platform identifies the origin of an event.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformKick    Platform = "kick"
	PlatformYouTube Platform = "youtube"
)

// Display returns the platform's human-readable name for status text.
func (p Platform) Display() string {
	switch p {
	case PlatformTwitch:
		return "Twitch"
	case PlatformKick:
		return "Kick"
	case PlatformYouTube:
		return "YouTube"
	}
	return string(p)
}

// Kind distinguishes chat messages from connection lifecycle notices and
// reported failures. Status and error events are transient notices; chat
// events are persistent entries on the client side.
type Kind string

const (
	KindChat   Kind = "chat"
	KindStatus Kind = "status"
	KindError  Kind = "error"
)

// Badge is one resolved badge worn by the message author. Order matters:
// adapters preserve the upstream badge order.
type Badge struct {
	SetID    string `json:"set_id"`
	Version  string `json:"version,omitempty"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Emote is one emote used in a message with its validated character spans.
// Positions are inclusive [start, end] offsets into Message; every span has
// been checked against the message length before the event is emitted.
type Emote struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Positions [][2]int `json:"positions"`
}

// Reply references the message this chat message is replying to.
type Reply struct {
	MessageID string `json:"message_id"`
	User      string `json:"user"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

// Event is the normalized record delivered to the client. The JSON shape is
// the client wire format; optional enrichment fields are omitted when empty.
type Event struct {
	Platform Platform `json:"platform"`
	Kind     Kind     `json:"type"`
	Channel  string   `json:"channel,omitempty"`
	User     string   `json:"user,omitempty"`
	UserID   string   `json:"user_id,omitempty"`
	Message  string   `json:"message"`
	Color    string   `json:"color,omitempty"`
	Avatar   string   `json:"avatar,omitempty"`

	// Channel-level enrichment resolved by the adapter.
	ChannelProfileImage string `json:"channel_profile_image,omitempty"`
	ChannelDisplayName  string `json:"channel_display_name,omitempty"`

	Badges []Badge `json:"badges,omitempty"`
	Emotes []Emote `json:"emotes,omitempty"`
	Reply  *Reply  `json:"reply,omitempty"`

	// ID is the platform message id, used for de-duplication where the
	// upstream provides one.
	ID string `json:"id,omitempty"`
}

// ValidChat reports whether a chat event satisfies the emission invariant:
// both user and message must be non-empty. Adapters drop frames that fail
// this check instead of forwarding them malformed.
func (e Event) ValidChat() bool {
	return e.Kind == KindChat && e.User != "" && e.Message != ""
}

// Status builds a lifecycle notice for a platform channel.
func Status(p Platform, channel, text string) Event {
	return Event{Platform: p, Kind: KindStatus, Channel: channel, Message: text}
}

// Error builds a failure notice for a platform channel. Error events never
// terminate sibling adapters; they only describe this channel's failure.
func Error(p Platform, channel, text string) Event {
	return Event{Platform: p, Kind: KindError, Channel: channel, Message: text}
}
