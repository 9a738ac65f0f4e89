package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":      zerolog.DebugLevel,
		"DEV":        zerolog.DebugLevel,
		" warning ":  zerolog.WarnLevel,
		"production": zerolog.ErrorLevel,
		"off":        zerolog.Disabled,
		"":           zerolog.InfoLevel,
		"verbose":    zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPionFactoryWritesScope(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "debug", false)
	t.Cleanup(func() { SetupWriter(&bytes.Buffer{}, "info", false) })

	PionFactory{}.NewLogger("ice").Warnf("candidate %d dropped", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry["scope"] != "ice" || entry["message"] != "candidate 3 dropped" || entry["level"] != "warn" {
		t.Fatalf("entry = %v", entry)
	}

	buf.Reset()
	PionFactory{}.NewLogger("ice").Debug("noise")
	if buf.Len() != 0 {
		t.Fatalf("pion debug should map below debug, got %q", buf.String())
	}
}
