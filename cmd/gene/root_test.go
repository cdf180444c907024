package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/ashureev/gene-chat/internal/session"
	"gopkg.in/yaml.v3"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn")
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "user_id", "anon_1")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"user_id":"anon_1"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if !logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error level should be enabled")
	}

	if _, err := newLogger(&buf, "verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestCatalogCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"catalog", "--log-level", "error"})

	if err := root.Execute(); err != nil {
		t.Fatalf("catalog failed: %v", err)
	}

	var got session.Catalog
	if err := yaml.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out.String())
	}
	if len(got.Domains) != len(session.Domains) || got.Domains[1].Label != "Technical/IT" {
		t.Fatalf("unexpected domains: %+v", got.Domains)
	}
	if len(got.Tools) != len(session.Tools) {
		t.Fatalf("unexpected tools: %+v", got.Tools)
	}
}
