package kickchat

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/sdingwan/combined-chat/event"
)

// pusherFrame is the envelope every Pusher message arrives in. Data is
// usually a JSON-string-encoded object but can arrive already structured.
type pusherFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// decodeFrameData decodes a frame's data field into an object, trying the
// string-encoded form first and falling back to a structured object.
func decodeFrameData(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		raw = json.RawMessage(inner)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	return obj, true
}

// errorText extracts a readable message from a pusher:error data field,
// which arrives as an object with a message, a string-encoded form of the
// same, or plain text.
func errorText(raw json.RawMessage) string {
	if obj, ok := decodeFrameData(raw); ok {
		if msg := firstKeyString(obj, "message", "error"); msg != "" {
			return msg
		}
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		if s := strings.TrimSpace(inner); s != "" {
			return s
		}
		return "unknown error"
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return "unknown error"
}

// parseChatMessage normalizes a ChatMessageEvent payload. It reports false
// for frames missing content or a sender, which callers drop.
func parseChatMessage(data map[string]any, channel string, info *ChannelInfo, badges *badgeResolver) (event.Event, bool) {
	content := firstKeyString(data, "content", "message")
	senderRaw := data["sender"]
	if senderRaw == nil {
		senderRaw = data["user"]
	}

	var username, userID string
	sender, senderIsObj := asObject(senderRaw)
	if senderIsObj {
		username = firstKeyString(sender, "username", "slug")
		userID = firstKeyString(sender, "id", "user_id")
	} else {
		username = asString(senderRaw)
	}
	if content == "" || username == "" {
		return event.Event{}, false
	}

	ev := event.Event{
		Platform: event.PlatformKick,
		Kind:     event.KindChat,
		Channel:  channel,
		User:     username,
		UserID:   userID,
		Message:  content,
		ID:       firstKeyString(data, "id", "chat_id", "uuid"),
	}
	if info != nil {
		ev.ChannelProfileImage = info.ProfileImage
		ev.ChannelDisplayName = info.DisplayName
	}

	if senderIsObj {
		if identity, ok := asObject(sender["identity"]); ok {
			ev.Color = asString(identity["color"])
			if rawBadges, ok := identity["badges"].([]any); ok && badges != nil {
				ev.Badges = badges.resolve(rawBadges)
			}
		}
	}

	ev.Reply = parseReply(data)
	return ev, true
}

// parseReply normalizes both reply shapes Kick emits: a direct reply object
// (reply_to / replied_to) or the metadata original_sender/original_message
// pair. Both collapse to the same Reply value.
func parseReply(data map[string]any) *event.Reply {
	metadata, _ := asObject(data["metadata"])

	replySource := data["reply_to"]
	if replySource == nil {
		replySource = data["replied_to"]
	}
	if replySource == nil && metadata != nil {
		replySource = metadata["reply_to"]
	}
	if src, ok := asObject(replySource); ok {
		return &event.Reply{
			MessageID: firstKeyString(src, "id", "message_id", "chat_message_id"),
			User:      firstKeyString(src, "username", "user"),
			UserID:    firstKeyString(src, "user_id", "id"),
			Message:   firstKeyString(src, "message", "content"),
		}
	}

	if metadata == nil {
		return nil
	}
	origSender, senderOK := asObject(metadata["original_sender"])
	origMessage, messageOK := asObject(metadata["original_message"])
	if !senderOK && !messageOK {
		return nil
	}
	reply := &event.Reply{}
	if senderOK {
		reply.User = firstKeyString(origSender, "username", "user", "slug")
		reply.UserID = firstKeyString(origSender, "user_id", "id")
	}
	if messageOK {
		reply.Message = firstKeyString(origMessage, "content", "message", "text")
		reply.MessageID = firstKeyString(origMessage, "message_id", "chat_message_id", "id")
	}
	return reply
}
