package transcript

// ExtractText applies §4.5's text extraction priority: the payload may be
// (a) a plain string, (b) {text}, (c) {transcript}, (d) {delta: string}
// nested; the first non-empty match wins, checked in that order.
func ExtractText(payload interface{}) string {
	switch v := payload.(type) {
	case string:
		return v
	case map[string]interface{}:
		if s, ok := v["text"].(string); ok && s != "" {
			return s
		}
		if s, ok := v["transcript"].(string); ok && s != "" {
			return s
		}
		if s, ok := v["delta"].(string); ok && s != "" {
			return s
		}
		return ""
	default:
		return ""
	}
}
