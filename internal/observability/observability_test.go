package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithRun(NewLogger(LoggingConfig{Level: "info", Format: "json"}, &buf), "run-1", "10.1/x")

	logger.Debug().Msg("hidden")
	logger.Info().Int("works", 3).Msg("done")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1 (debug filtered): %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["run_id"] != "run-1" || entry["target_doi"] != "10.1/x" {
		t.Errorf("run fields missing: %v", entry)
	}
	if entry["works"] != float64(3) {
		t.Errorf("works = %v, want 3", entry["works"])
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("ok")
	m.ObserveRetry()
	m.ObservePage(1, 1)
	m.ObserveHidden(1)
	m.ObserveRun(1, 1, 1, time.Second, time.Now())
	if err := m.WriteTextfile("ignored"); err != nil {
		t.Errorf("WriteTextfile() on nil = %v, want nil", err)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("ok")
	m.ObserveRequest("retry")
	m.ObservePage(50, 2)
	m.ObserveRun(48, 1234, 3, 2*time.Second, time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "citewatch.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading textfile: %v", err)
	}
	text := string(data)

	for _, want := range []string{
		`citewatch_api_requests_total{outcome="ok"} 1`,
		`citewatch_records_skipped_total 2`,
		`citewatch_works_fetched_total 50`,
		`citewatch_works_total 48`,
		`citewatch_citations_sum 1234`,
		`citewatch_last_success_timestamp_seconds 1.7e+09`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q\n%s", want, text)
		}
	}
}
