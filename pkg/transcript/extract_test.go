package transcript

import "testing"

func TestExtractTextScenario6Variants(t *testing.T) {
	cases := []struct {
		name    string
		payload interface{}
		want    string
	}{
		{"plain string", "hello world", "hello world"},
		{"text field", map[string]interface{}{"text": "normalized"}, "normalized"},
		{"transcript field", map[string]interface{}{"transcript": "fallback"}, "fallback"},
		{"no recognized field", map[string]interface{}{"confidence": 0.45}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ExtractText(c.payload); got != c.want {
				t.Errorf("ExtractText(%v) = %q, want %q", c.payload, got, c.want)
			}
		})
	}
}

func TestExtractTextPriorityOrder(t *testing.T) {
	payload := map[string]interface{}{
		"text":       "from-text",
		"transcript": "from-transcript",
		"delta":      "from-delta",
	}
	if got := ExtractText(payload); got != "from-text" {
		t.Fatalf("ExtractText() = %q, want %q (text takes priority)", got, "from-text")
	}
}

func TestExtractTextDeltaFallback(t *testing.T) {
	payload := map[string]interface{}{"delta": "nested-delta-string"}
	if got := ExtractText(payload); got != "nested-delta-string" {
		t.Fatalf("ExtractText() = %q, want %q", got, "nested-delta-string")
	}
}

func TestExtractTextNilPayload(t *testing.T) {
	if got := ExtractText(nil); got != "" {
		t.Fatalf("ExtractText(nil) = %q, want empty", got)
	}
}
