package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/timzifer/pulsed/config"
)

func TestSetupJSONLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := setup(config.LoggingConfig{Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer cleanup()

	logger.Info().Msg("hidden")
	logger.Warn().Str("ensemble", "rabi").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info message should be filtered: %s", out)
	}
	if !strings.Contains(out, `"ensemble":"rabi"`) {
		t.Fatalf("expected structured field in %s", out)
	}
}

func TestSetupTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := setup(config.LoggingConfig{Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer cleanup()
	logger.Info().Msg("sampled")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "sampled") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}

func TestSetupRejectsInvalidLevel(t *testing.T) {
	if _, _, err := Setup(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestLokiRequiresURL(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}})
	if err == nil || !strings.Contains(err.Error(), "loki url") {
		t.Fatalf("expected loki url error, got %v", err)
	}
}

func TestSetupAddsConfiguredFields(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := setup(config.LoggingConfig{Fields: map[string]string{"setup": "confocal-2"}}, &buf)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer cleanup()
	logger.Info().Msg("ready")

	out := buf.String()
	for _, want := range []string{`"app":"pulsed"`, `"setup":"confocal-2"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestLokiLabels(t *testing.T) {
	labels, err := lokiLabels(map[string]string{"lab": "b12"})
	if err != nil {
		t.Fatalf("lokiLabels: %v", err)
	}
	if labels["app"] != "pulsed" || labels["lab"] != "b12" {
		t.Fatalf("unexpected labels %v", labels)
	}
	labels, _ = lokiLabels(map[string]string{"app": "awg-bench"})
	if labels["app"] != "awg-bench" {
		t.Fatalf("configured app label should win, got %v", labels)
	}
	if _, err := lokiLabels(map[string]string{"bad-label": "x"}); err == nil {
		t.Fatalf("expected invalid label error")
	}
}
