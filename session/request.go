// Package session turns one subscribe request into a set of running
// platform adapters feeding a single ordered event stream.
package session

import (
	"encoding/json"
	"strings"

	"github.com/sdingwan/combined-chat/event"
)

// ChannelList accepts either a JSON list of strings or a single string
// with comma/whitespace separated entries.
type ChannelList []string

func (c *ChannelList) UnmarshalJSON(data []byte) error {
	var asList []string
	if err := json.Unmarshal(data, &asList); err == nil {
		*c = asList
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return err
	}
	*c = strings.FieldsFunc(asString, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	return nil
}

// SubscribeRequest is the first frame a client sends on the websocket.
type SubscribeRequest struct {
	Action  string      `json:"action"`
	Twitch  ChannelList `json:"twitch"`
	Kick    ChannelList `json:"kick"`
	YouTube ChannelList `json:"youtube"`
}

// ChannelRef names one requested (platform, channel) pair.
type ChannelRef struct {
	Platform event.Platform
	Channel  string
}

// Channels flattens the request into normalized, de-duplicated channel
// references, capped at max entries across all platforms. Normalization
// trims whitespace, strips a leading # or @ marker, and lowercases.
func (r *SubscribeRequest) Channels(max int) []ChannelRef {
	var out []ChannelRef
	seen := map[ChannelRef]bool{}
	add := func(platform event.Platform, names []string) {
		for _, name := range names {
			if max > 0 && len(out) >= max {
				return
			}
			name = normalizeChannel(name)
			if name == "" {
				continue
			}
			ref := ChannelRef{Platform: platform, Channel: name}
			if seen[ref] {
				continue
			}
			seen[ref] = true
			out = append(out, ref)
		}
	}
	add(event.PlatformTwitch, r.Twitch)
	add(event.PlatformKick, r.Kick)
	add(event.PlatformYouTube, r.YouTube)
	return out
}

func normalizeChannel(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "#")
	name = strings.TrimPrefix(name, "@")
	return strings.ToLower(strings.TrimSpace(name))
}
