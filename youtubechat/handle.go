// Package youtubechat streams a YouTube channel's live chat by polling the
// Data API and normalizes messages into events.
package youtubechat

import "strings"

// CanonicalHandle reduces a user-supplied channel reference (handle or
// youtube.com URL) to a lowercase @handle. Raw names without the @ marker
// are accepted by prepending it. Empty input canonicalizes to "".
func CanonicalHandle(value string) string {
	h := strings.TrimSpace(value)
	if h == "" {
		return ""
	}
	for _, prefix := range []string{
		"https://www.youtube.com/",
		"http://www.youtube.com/",
		"https://youtube.com/",
		"http://youtube.com/",
		"www.youtube.com/",
		"youtube.com/",
		"channel/",
		"c/",
		"user/",
	} {
		h = strings.Replace(h, prefix, "", 1)
	}
	h, _, _ = strings.Cut(h, "?")
	h, _, _ = strings.Cut(h, "#")
	h, _, _ = strings.Cut(h, "/")
	h = strings.TrimSpace(h)
	if h == "" || h == "@" {
		return ""
	}
	if !strings.HasPrefix(h, "@") {
		h = "@" + h
	}
	return strings.ToLower(h)
}
