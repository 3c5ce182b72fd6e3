package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// TestParseLevel covers names, case and the default
func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", LevelDebug, false},
		{"", LevelInfo, false},
		{"warning", LevelWarning, false},
		{"Error", LevelError, false},
		{"FATAL", LevelFatal, false},
		{"verbose", LevelInfo, true},
	}
	for _, tc := range testCases {
		got, err := ParseLevel(tc.in)
		if got != tc.want || (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) = %v, %v", tc.in, got, err)
		}
	}
}

// TestSetupJSONComponent verifies JSON output carries the component and honors the level
func TestSetupJSONComponent(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(context.Background(), Options{Level: "INFO", SampleRate: 1, Output: &buf}); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}

	Component("rules.store").Debug("hidden")
	Component("rules.store").Info("visible", "rule_sets", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1: %q", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if record["component"] != "rules.store" || record["msg"] != "visible" || record["rule_sets"] != float64(3) {
		t.Errorf("record = %v", record)
	}
}

// TestSamplingCountsEverything verifies counters move even when output is sampled away
func TestSamplingCountsEverything(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(context.Background(), Options{Level: "ERROR", SampleRate: 1_000_000, Output: &buf}); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	t.Cleanup(func() { _ = Setup(context.Background(), Options{SampleRate: 1}) })

	warnings, errs := TotalWarnings.Load(), TotalErrors.Load()
	for i := 0; i < 10; i++ {
		Warn("slow")
		Error("boom")
	}

	if got := TotalWarnings.Load() - warnings; got != 10 {
		t.Errorf("warnings counted = %d, want 10", got)
	}
	if got := TotalErrors.Load() - errs; got != 10 {
		t.Errorf("errors counted = %d, want 10", got)
	}
	if strings.Contains(buf.String(), "slow") {
		t.Error("warnings below the ERROR level should not be written")
	}
}

// TestHTTPCounters verifies status-specific counters
func TestHTTPCounters(t *testing.T) {
	before4xx, before404 := Total4xxErrors.Load(), Total404Errors.Load()
	WarnHttp4xx(404)
	WarnHttp4xx(409)
	if Total4xxErrors.Load()-before4xx != 2 || Total404Errors.Load()-before404 != 1 {
		t.Error("4xx counters not incremented as expected")
	}

	before5xx := Total5xxErrors.Load()
	ErrorHttp5xx()
	if Total5xxErrors.Load()-before5xx != 1 {
		t.Error("5xx counter not incremented")
	}
}
