package flow

import "strings"

// RenderTemplate substitutes {{ output.<key> }} tokens in a flow body
// with values produced by the gate script. Unknown tokens render empty;
// an unterminated token is emitted literally.
func RenderTemplate(template string, output map[string]string) string {
	if template == "" {
		return ""
	}
	var builder strings.Builder
	remaining := template
	for {
		start := strings.Index(remaining, "{{")
		if start < 0 {
			builder.WriteString(remaining)
			break
		}
		builder.WriteString(remaining[:start])
		remaining = remaining[start+2:]
		end := strings.Index(remaining, "}}")
		if end < 0 {
			builder.WriteString("{{")
			builder.WriteString(remaining)
			break
		}
		token := strings.TrimSpace(remaining[:end])
		builder.WriteString(resolveToken(token, output))
		remaining = remaining[end+2:]
	}
	return builder.String()
}

func resolveToken(token string, output map[string]string) string {
	if token == "" {
		return ""
	}
	if strings.HasPrefix(token, "output.") {
		key := strings.TrimPrefix(token, "output.")
		if key == "" {
			return ""
		}
		return output[key]
	}
	return output[token]
}
