package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn"}, &buf)

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing, got %q", out)
	}
}

func TestCtx_FallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug"}, &buf)

	ctx := WithLogger(context.Background(), l)
	got := Ctx(ctx)
	got.Debug().Msg("from ctx")
	if !strings.Contains(buf.String(), "from ctx") {
		t.Errorf("expected context logger to be used, got %q", buf.String())
	}

	// No logger stored: must not panic and must return a usable logger.
	fallback := Ctx(context.Background())
	fallback.Debug().Msg("ignored")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"":        "info",
		"DEBUG":   "debug",
		" warn ":  "warn",
		"warning": "warn",
		"off":     "disabled",
		"fatal":   "fatal",
		"verbose": "info",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
