package log

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestJSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("warn", "json", &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("conn_id", "c1").Msg("shown")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "shown" || line["conn_id"] != "c1" || line["level"] != "warn" {
		t.Fatalf("unexpected line: %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"DEBUG":   "debug",
		"warning": "warn",
		"bogus":   "info",
		"off":     "disabled",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
