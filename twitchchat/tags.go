package twitchchat

import (
	"strconv"
	"strings"

	"github.com/sdingwan/combined-chat/event"
)

// parseEmoteTag decodes the raw IRCv3 emotes tag ("id:start-end,.../...")
// against the message text. Spans are validated against the message's rune
// length; invalid spans are discarded. Repeated (id,name) pairs are merged
// with all of their positions.
func parseEmoteTag(tag, message string) []event.Emote {
	if tag == "" {
		return nil
	}
	runes := []rune(message)
	var out []event.Emote
	index := map[string]int{}

	for _, group := range strings.Split(tag, "/") {
		id, spans, ok := strings.Cut(group, ":")
		if !ok || id == "" {
			continue
		}
		var positions [][2]int
		name := ""
		for _, span := range strings.Split(spans, ",") {
			startStr, endStr, ok := strings.Cut(span, "-")
			if !ok {
				continue
			}
			start, err1 := strconv.Atoi(startStr)
			end, err2 := strconv.Atoi(endStr)
			if err1 != nil || err2 != nil {
				continue
			}
			if start < 0 || end < start || end >= len(runes) {
				continue
			}
			if name == "" {
				name = string(runes[start : end+1])
			}
			positions = append(positions, [2]int{start, end})
		}
		if len(positions) == 0 {
			continue
		}
		key := id + "\x00" + name
		if i, ok := index[key]; ok {
			out[i].Positions = append(out[i].Positions, positions...)
			continue
		}
		index[key] = len(out)
		out = append(out, event.Emote{ID: id, Name: name, Positions: positions})
	}
	return out
}

type badgeRef struct {
	SetID   string
	Version string
}

// parseBadgeTag decodes the raw badges tag ("set/version,set/version")
// preserving order.
func parseBadgeTag(tag string) []badgeRef {
	if tag == "" {
		return nil
	}
	var out []badgeRef
	for _, part := range strings.Split(tag, ",") {
		set, version, ok := strings.Cut(part, "/")
		if !ok || set == "" {
			continue
		}
		out = append(out, badgeRef{SetID: set, Version: version})
	}
	return out
}

// titleCaseSet turns a badge set id like "sub-gifter" into "Sub Gifter".
func titleCaseSet(set string) string {
	words := strings.FieldsFunc(set, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
