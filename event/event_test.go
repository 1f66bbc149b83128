package event

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidChat(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		want bool
	}{
		{"complete", Event{Kind: KindChat, User: "u1", Message: "hi"}, true},
		{"missing user", Event{Kind: KindChat, Message: "hi"}, false},
		{"missing message", Event{Kind: KindChat, User: "u1"}, false},
		{"status is not chat", Event{Kind: KindStatus, User: "u1", Message: "hi"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.ValidChat(); got != tc.want {
				t.Errorf("ValidChat() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestJSONShape(t *testing.T) {
	ev := Event{
		Platform: PlatformKick,
		Kind:     KindChat,
		Channel:  "somechannel",
		User:     "viewer",
		Message:  "hello",
		Badges:   []Badge{{SetID: "moderator", Title: "Moderator"}},
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"type":"chat"`) {
		t.Errorf("kind must serialize under the legacy \"type\" key, got %s", s)
	}
	for _, absent := range []string{"color", "avatar", "reply", "emotes", "user_id", "channel_profile_image"} {
		if strings.Contains(s, `"`+absent+`"`) {
			t.Errorf("empty field %q should be omitted, got %s", absent, s)
		}
	}
}

func TestStatusAndErrorConstructors(t *testing.T) {
	st := Status(PlatformTwitch, "chan", "Connected to Twitch chat for #chan")
	if st.Kind != KindStatus || st.Platform != PlatformTwitch || st.Channel != "chan" {
		t.Errorf("unexpected status event: %+v", st)
	}
	er := Error(PlatformYouTube, "@handle", "lookup failed")
	if er.Kind != KindError || er.Message == "" {
		t.Errorf("unexpected error event: %+v", er)
	}
}
