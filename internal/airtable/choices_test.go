package airtable

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func docsTableSchema() TableSchema {
	return TableSchema{
		ID:   "tblDocs",
		Name: "Docs",
		Fields: []FieldSchema{
			{ID: "fldSlug", Name: "slug", Type: "singleLineText"},
			{ID: "fldStatus", Name: "Status", Type: "singleSelect", Options: &FieldOptions{
				Choices: []Choice{{Name: "Draft"}, {Name: "Ready"}, {Name: "Approved"}},
			}},
			{ID: "fldNotes", Name: "notes", Type: "multilineText"},
		},
	}
}

func TestResolveCanonicalizesCaseInsensitively(t *testing.T) {
	metaCalls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/meta/") {
			t.Fatalf("unexpected request %s", r.URL.Path)
		}
		metaCalls++
		_ = json.NewEncoder(w).Encode(map[string]any{"tables": []TableSchema{docsTableSchema()}})
	})
	resolver := NewChoiceResolver(client, "Docs", NewChoiceCache())

	for _, candidate := range []string{"draft", "DRAFT", "Draft", "dRaFt"} {
		got, err := resolver.Resolve(context.Background(), "status", candidate)
		if err != nil {
			t.Fatalf("resolve %q failed: %v", candidate, err)
		}
		if got != "Draft" {
			t.Fatalf("resolve %q = %q, want Draft", candidate, got)
		}
	}
	if metaCalls != 1 {
		t.Fatalf("expected one metadata fetch for the field, got %d", metaCalls)
	}
}

func TestResolvePassesThroughUnknownCandidate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tables": []TableSchema{docsTableSchema()}})
	})
	resolver := NewChoiceResolver(client, "Docs", NewChoiceCache())

	got, err := resolver.Resolve(context.Background(), "status", "archived")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "archived" {
		t.Fatalf("unknown candidate must pass through, got %q", got)
	}
}

func TestResolvePassesThroughNonSelectAndAbsentFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tables": []TableSchema{docsTableSchema()}})
	})
	resolver := NewChoiceResolver(client, "Docs", NewChoiceCache())

	got, err := resolver.Resolve(context.Background(), "notes", "Whatever")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "Whatever" {
		t.Fatalf("non-select field must pass through, got %q", got)
	}

	got, err = resolver.Resolve(context.Background(), "nosuchfield", "x")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "x" {
		t.Fatalf("absent field must pass through, got %q", got)
	}
}

func TestResolvePropagatesMetadataErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"type":"NOT_AUTHORIZED"}}`))
	})
	resolver := NewChoiceResolver(client, "Docs", NewChoiceCache())

	if _, err := resolver.Resolve(context.Background(), "status", "draft"); err == nil {
		t.Fatalf("expected metadata error to propagate")
	}
}

func TestSeedSkipsMetadataFetch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("seeded cache must not hit the metadata endpoint")
	})
	cache := NewChoiceCache()
	cache.Seed("appTest", "Docs", "status", "Draft", "Ready", "Approved")
	resolver := NewChoiceResolver(client, "Docs", cache)

	got, err := resolver.Resolve(context.Background(), "status", "ready")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "Ready" {
		t.Fatalf("resolve = %q, want Ready", got)
	}
}
