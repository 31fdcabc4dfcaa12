package ledger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zen-systems/modelgate/pkg/adapter"
)

func sampleRecord(subject string, success bool, created time.Time) Record {
	return Record{
		ExecutionID: uuid.NewString(),
		Subject:     subject,
		Tier:        "free",
		Mode:        "parallel",
		Models:      []string{"groq/llama-3.3-70b", "mistral/codestral"},
		Success:     success,
		Usage:       adapter.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Cost:        adapter.Cost{Currency: "USD", Amount: 0.01, IsEstimate: true},
		Calls: []CallRecord{
			{ModelID: "groq/llama-3.3-70b", Success: true, Usage: adapter.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}},
			{ModelID: "mistral/codestral", Success: false, ErrorKind: "auth_error"},
		},
		CreatedAt: created,
	}
}

func TestFileSink(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("new file sink: %v", err)
	}
	rec := sampleRecord("alice", true, time.Now().UTC())
	if err := sink.Record(context.Background(), rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, err := os.Stat(filepath.Join(sink.Dir(rec.ExecutionID), "calls", "01-groq_llama-3.3-70b.json")); err != nil {
		t.Fatalf("missing call file: %v", err)
	}
	got, err := sink.Read(rec.ExecutionID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Usage.TotalTokens != 15 || len(got.Calls) != 2 {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := sink.Record(context.Background(), Record{}); err == nil {
		t.Fatal("expected error for missing execution ID")
	}
}

func TestSQLiteSink(t *testing.T) {
	sink, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger", "usage.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer sink.Close()
	exerciseSQLSink(t, sink)
}

func TestPostgresSink(t *testing.T) {
	dsn := os.Getenv("MODELGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MODELGATE_TEST_POSTGRES_DSN not set")
	}
	sink, err := OpenPostgres(dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer sink.Close()
	exerciseSQLSink(t, sink)
}

func exerciseSQLSink(t *testing.T, sink *SQLSink) {
	t.Helper()
	ctx := context.Background()
	subject := "subject-" + uuid.NewString()
	now := time.Now().UTC()

	first := sampleRecord(subject, true, now)
	if err := sink.Record(ctx, first); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := sink.Record(ctx, sampleRecord(subject, true, now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("record old: %v", err)
	}
	failed := sampleRecord(subject, false, now)
	failed.Usage = adapter.Usage{}
	if err := sink.Record(ctx, failed); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	usage, err := sink.Usage(ctx, subject, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.TotalTokens != 15 {
		t.Fatalf("expected 15 tokens in window, got %d", usage.TotalTokens)
	}

	got, err := sink.Get(ctx, first.ExecutionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Success || len(got.Models) != 2 || got.Calls[1].ErrorKind != "auth_error" {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := sink.Record(ctx, first); err == nil {
		t.Fatal("expected duplicate execution ID to fail")
	}
}

type failingSink struct{ err error }

func (s failingSink) Record(context.Context, Record) error { return s.err }

func TestMultiAttemptsEverySink(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	m := Multi{failingSink{err: boom}, LogSink{Logger: zerolog.New(&buf)}, nil}

	err := m.Record(context.Background(), sampleRecord("bob", true, time.Now()))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if !strings.Contains(buf.String(), "usage recorded") {
		t.Fatalf("log sink was skipped: %q", buf.String())
	}
}
