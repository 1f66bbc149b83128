package kickchat

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sdingwan/combined-chat/event"
)

var globalBadgeTitles = map[string]string{
	"verified":    "Verified channel",
	"moderator":   "Moderator",
	"vip":         "VIP",
	"staff":       "Staff",
	"bot":         "Bot",
	"founder":     "Founder",
	"partner":     "Partner",
	"broadcaster": "Broadcaster",
	"og":          "OG Supporter",
}

// badgeExtensionPreference orders the asset file extensions tried when
// looking up a global badge image on disk.
var badgeExtensionPreference = []string{"svg", "png", "webp", "gif", "jpg", "jpeg"}

// badgeResolver translates the raw badge descriptors on a Kick identity into
// renderable badges. Subscriber badges resolve against the channel's tier
// table; global badges resolve to files under the local asset directory.
// A missing global asset is logged once per connection.
type badgeResolver struct {
	info     *ChannelInfo
	assetDir string
	webBase  string
	missing  map[string]bool
}

func newBadgeResolver(info *ChannelInfo, assetDir, webBase string) *badgeResolver {
	return &badgeResolver{info: info, assetDir: assetDir, webBase: webBase, missing: make(map[string]bool)}
}

func (r *badgeResolver) resolve(raw []any) []event.Badge {
	if len(raw) == 0 {
		return nil
	}
	var out []event.Badge
	for _, item := range raw {
		badge, ok := item.(map[string]any)
		if !ok {
			continue
		}
		badgeType := strings.ToLower(asString(badge["type"]))
		if badgeType == "" {
			continue
		}
		if strings.HasPrefix(badgeType, "subscriber") || badgeType == "sub" {
			if b, ok := r.resolveSubscriber(badge); ok {
				out = append(out, b)
			}
			continue
		}
		if b, ok := r.resolveGlobal(badgeType, badge); ok {
			out = append(out, b)
		}
	}
	return out
}

// resolveSubscriber picks the channel tier asset nearest to the badge's
// month count: exact match, else the highest tier at or below, else the
// lowest tier above.
func (r *badgeResolver) resolveSubscriber(badge map[string]any) (event.Badge, bool) {
	months, haveMonths := firstInt(badge, "count", "months", "quantity", "tier", "level")

	var asset subscriberAsset
	var haveAsset bool
	version := ""
	if haveMonths && r.info != nil && len(r.info.SubscriberBadges) > 0 {
		tier, ok := nearestTier(r.info.SubscriberBadges, months)
		if ok {
			asset = r.info.SubscriberBadges[tier]
			haveAsset = true
			version = strconv.Itoa(tier)
		}
	}
	if !haveAsset {
		if direct := extractImageURL(badge); direct != "" {
			asset = subscriberAsset{ImageURL: direct, Title: firstString(asString(badge["text"]), "Subscriber")}
			haveAsset = true
			if haveMonths {
				version = strconv.Itoa(months)
			}
		}
	}
	if !haveAsset {
		if file := r.findBadgeFile("subscriber"); file != "" {
			asset = subscriberAsset{ImageURL: r.webBase + "/" + file, Title: "Subscriber"}
			haveAsset = true
			if haveMonths {
				version = strconv.Itoa(months)
			}
		}
	}
	if !haveAsset {
		return event.Badge{}, false
	}

	title := firstString(asString(badge["text"]), asset.Title)
	if haveMonths && title != "" {
		title = fmt.Sprintf("%s (%d months)", title, months)
	}
	return event.Badge{SetID: "subscriber", Version: version, Title: title, ImageURL: asset.ImageURL}, true
}

func (r *badgeResolver) resolveGlobal(badgeType string, badge map[string]any) (event.Badge, bool) {
	title := firstString(asString(badge["text"]), globalBadgeTitles[badgeType])
	if inline := extractImageURL(badge); inline != "" {
		return event.Badge{SetID: badgeType, Title: title, ImageURL: inline}, true
	}
	if _, known := globalBadgeTitles[badgeType]; !known {
		r.logMissing(badgeType)
		return event.Badge{}, false
	}
	file := r.findBadgeFile(badgeType)
	if file == "" {
		r.logMissing(badgeType)
		return event.Badge{}, false
	}
	return event.Badge{SetID: badgeType, Title: title, ImageURL: r.webBase + "/" + file}, true
}

func (r *badgeResolver) logMissing(badgeType string) {
	if r.missing[badgeType] {
		return
	}
	r.missing[badgeType] = true
	slog.Debug("kick badge asset not found",
		slog.String("badge", badgeType),
		slog.String("dir", r.assetDir),
		slog.String("component", "kick_badges"))
}

// findBadgeFile returns the file name (not path) of the best asset for
// baseName, following the extension preference order.
func (r *badgeResolver) findBadgeFile(baseName string) string {
	if r.assetDir == "" {
		return ""
	}
	for _, ext := range badgeExtensionPreference {
		name := baseName + "." + ext
		if _, err := os.Stat(filepath.Join(r.assetDir, name)); err == nil {
			return name
		}
	}
	matches, _ := filepath.Glob(filepath.Join(r.assetDir, baseName+".*"))
	if len(matches) > 0 {
		return filepath.Base(matches[0])
	}
	return ""
}

// nearestTier picks the tier key for months: exact, else max key <= months,
// else min key >= months.
func nearestTier(tiers map[int]subscriberAsset, months int) (int, bool) {
	if _, ok := tiers[months]; ok {
		return months, true
	}
	best, haveBelow := 0, false
	for k := range tiers {
		if k <= months && (!haveBelow || k > best) {
			best, haveBelow = k, true
		}
	}
	if haveBelow {
		return best, true
	}
	best, haveAbove := 0, false
	for k := range tiers {
		if k >= months && (!haveAbove || k < best) {
			best, haveAbove = k, true
		}
	}
	return best, haveAbove
}

// extractImageURL pulls an inline image URL from a raw badge payload,
// accepting the handful of shapes Kick has used.
func extractImageURL(badge map[string]any) string {
	if s := asString(badge["image_url"]); s != "" {
		return s
	}
	for _, key := range []string{"badge_image", "image"} {
		switch img := badge[key].(type) {
		case map[string]any:
			if s := asString(img["src"]); s != "" {
				return s
			}
			if s := asString(img["url"]); s != "" {
				return s
			}
		case string:
			if img != "" {
				return img
			}
		}
	}
	return ""
}
