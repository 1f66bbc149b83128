package kickchat

import (
	"encoding/json"
	"strconv"
)

// The Kick payloads are loosely shaped: ids arrive as numbers or strings,
// month counts under several key names. These helpers normalize values
// decoded into map[string]any (with json.Number enabled).

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	case float64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}

func firstInt(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if n, ok := asInt(m[k]); ok {
			return n, true
		}
	}
	return 0, false
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstKeyString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
