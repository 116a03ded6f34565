package chat

import (
	"strings"

	"github.com/spf13/cast"
)

// FallbackAdvice is shown when a reply payload carries no recognizable text.
const FallbackAdvice = "Please consult a healthcare professional for detailed guidance."

// ReplyText flattens the backend's heterogeneous reply payloads into a
// single display string. Strings pass through verbatim. Objects are probed
// for the raw model reply, unwrapped one level through "response" or
// "content", or rendered from the prescription-style shape (medicine,
// precautions list, consult advice). An object with no recognizable field
// degrades to FallbackAdvice; nil and non-object values yield "".
func ReplyText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any:
		return replyFromObject(val, true)
	default:
		return ""
	}
}

func replyFromObject(m map[string]any, unwrap bool) string {
	if raw, ok := m["llm response"]; ok {
		if s := cast.ToString(raw); s != "" {
			return s
		}
	}
	if unwrap {
		for _, key := range []string{"response", "content"} {
			switch inner := m[key].(type) {
			case string:
				if inner != "" {
					return inner
				}
			case map[string]any:
				// One level only; deeper nesting is treated as unknown.
				return replyFromObject(inner, false)
			}
		}
	}
	if s := prescriptionText(m); s != "" {
		return s
	}
	return FallbackAdvice
}

// prescriptionText renders the clinical payload shape line by line: the
// medicine text, a comma-joined precautions list, and the consult advice.
// Absent fields contribute nothing.
func prescriptionText(m map[string]any) string {
	var lines []string
	if s := cast.ToString(m["medicine"]); s != "" {
		lines = append(lines, s)
	}
	if raw, ok := m["precautions"]; ok {
		if list := cast.ToStringSlice(raw); len(list) > 0 {
			lines = append(lines, "Precautions: "+strings.Join(list, ", "))
		}
	}
	if s := cast.ToString(m["consult_doctor"]); s != "" {
		lines = append(lines, s)
	}
	return strings.Join(lines, "\n")
}
