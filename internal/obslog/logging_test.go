package obslog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func testLogger(t *testing.T, cfg LogConfig) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cfg.Output = buf
	return NewLogger(cfg), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("malformed log line %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := testLogger(t, LogConfig{Level: "warn"})
	ctx := context.Background()

	logger.Debug(ctx, "debug line")
	logger.Info(ctx, "info line")
	logger.Warn(ctx, "warn line")
	logger.Error(ctx, "error line")

	records := decodeLines(t, buf)
	if len(records) != 2 {
		t.Fatalf("expected 2 records at warn level, got %d", len(records))
	}
	if records[0]["msg"] != "warn line" || records[1]["msg"] != "error line" {
		t.Fatalf("unexpected surviving records: %v", records)
	}
}

func TestLoggerTextFormat(t *testing.T) {
	logger, buf := testLogger(t, LogConfig{Level: "info", Format: "text"})
	logger.Info(context.Background(), "hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "k=v") {
		t.Fatalf("unexpected text output: %q", out)
	}
}

func TestLoggerRedactsSecretsInMessageAndAttrs(t *testing.T) {
	logger, buf := testLogger(t, LogConfig{Level: "info"})
	logger.Info(context.Background(),
		"tool output: api_key=sk12345678901234567890",
		"payload", "password=supersecret123",
	)

	out := buf.String()
	if strings.Contains(out, "sk12345678901234567890") || strings.Contains(out, "supersecret123") {
		t.Fatalf("secret leaked into log output: %q", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction marker, got %q", out)
	}
}

func TestLoggerRedactsErrorValues(t *testing.T) {
	logger, buf := testLogger(t, LogConfig{Level: "info"})
	logger.Error(context.Background(), "tool failed",
		"error", errors.New("upstream said: token: abcdefabcdefabcdef123456"),
	)

	if strings.Contains(buf.String(), "abcdefabcdefabcdef123456") {
		t.Fatalf("secret inside error value leaked: %q", buf.String())
	}
}

func TestLoggerCustomRedactPatterns(t *testing.T) {
	logger, buf := testLogger(t, LogConfig{
		Level:          "info",
		RedactPatterns: []string{`internal-codename-\w+`},
	})
	logger.Info(context.Background(), "shipping internal-codename-falcon today")

	if strings.Contains(buf.String(), "falcon") {
		t.Fatalf("custom pattern not applied: %q", buf.String())
	}
}

func TestLoggerContextCorrelation(t *testing.T) {
	logger, buf := testLogger(t, LogConfig{Level: "info"})
	ctx := AddSessionID(AddRequestID(context.Background(), "req-7"), "sess-3")
	logger.Info(ctx, "turn complete")

	records := decodeLines(t, buf)
	if records[0]["request_id"] != "req-7" || records[0]["session_id"] != "sess-3" {
		t.Fatalf("missing context correlation fields: %v", records[0])
	}
}

func TestLoggerWithFields(t *testing.T) {
	logger, buf := testLogger(t, LogConfig{Level: "info"})
	logger.WithFields("component", "cli").Info(context.Background(), "x")

	records := decodeLines(t, buf)
	if records[0]["component"] != "cli" {
		t.Fatalf("expected component field on every record, got %v", records[0])
	}
}

func TestLoggerWithFieldsStillRedacts(t *testing.T) {
	logger, buf := testLogger(t, LogConfig{Level: "info"})
	logger.WithFields("bound", "api_key=sk12345678901234567890").Info(context.Background(), "x")

	if strings.Contains(buf.String(), "sk12345678901234567890") {
		t.Fatalf("secret bound via WithFields leaked: %q", buf.String())
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	if got := GetSessionID(context.Background()); got != "" {
		t.Fatalf("expected empty session id, got %q", got)
	}
}
