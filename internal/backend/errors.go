package backend

import (
	"encoding/json"
	"strings"
)

type errorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	} `json:"details"`
}

// extractError pulls a human message out of an error body. It understands
// {"error": {...}}, {"detail": {...}} and {"detail": "text"}; anything else
// is returned verbatim.
func extractError(body []byte) string {
	raw := string(body)
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return raw
	}
	for _, key := range []string{"error", "detail"} {
		v, ok := env[key]
		if !ok {
			continue
		}
		var d errorDetail
		if isObject(v) && json.Unmarshal(v, &d) == nil {
			return detailMessage(d)
		}
	}
	if v, ok := env["detail"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			return s
		}
	}
	return raw
}

func detailMessage(d errorDetail) string {
	base := strings.TrimSpace(d.Message)
	if base == "" {
		base = strings.TrimSpace(d.Code)
	}
	if base == "" {
		base = "Request failed"
	}
	if len(d.Details) > 0 {
		first := d.Details[0]
		var loc []string
		for _, part := range first.Loc {
			text := strings.TrimSpace(toText(part))
			if text != "" && text != "body" {
				loc = append(loc, text)
			}
		}
		if msg := strings.TrimSpace(first.Msg); msg != "" {
			if field := strings.Join(loc, "."); field != "" {
				return base + " (" + field + ": " + msg + ")"
			}
			return base + " (" + msg + ")"
		}
	}
	return base
}

func isObject(v json.RawMessage) bool {
	s := strings.TrimSpace(string(v))
	return strings.HasPrefix(s, "{")
}

func toText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
