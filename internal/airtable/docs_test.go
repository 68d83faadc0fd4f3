package airtable

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

type staticProjects []string

func (p staticProjects) Projects() []string { return p }

func TestFormulaConstruction(t *testing.T) {
	if got := formulaByProject("mainframe"); got != "{project}='mainframe'" {
		t.Fatalf("project formula: %s", got)
	}
	if got := formulaByProjectAndSlug("mainframe", "readme"); got != "AND({project}='mainframe', {slug}='readme')" {
		t.Fatalf("pair formula: %s", got)
	}
	if got := formulaByProject("o'brien"); got != `{project}='o\'brien'` {
		t.Fatalf("escaping: %s", got)
	}
	if got := formulaApproved(""); got != "LOWER({status})='approved'" {
		t.Fatalf("approved formula: %s", got)
	}
	if got := formulaApproved("mainframe"); got != "AND({project}='mainframe', LOWER({status})='approved')" {
		t.Fatalf("scoped approved formula: %s", got)
	}
}

func TestListDocsSendsProjectFormula(t *testing.T) {
	var capturedFormula string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		capturedFormula = r.URL.Query().Get("filterByFormula")
		writeRecords(w, "", Record{ID: "rec1", Fields: Fields{"project": "mainframe", "slug": "readme"}})
	})
	docs := NewDocs(client, "Docs", NewChoiceCache(), nil)

	out, err := docs.ListDocs(context.Background(), "mainframe")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if capturedFormula != "{project}='mainframe'" {
		t.Fatalf("unexpected formula: %s", capturedFormula)
	}
	if len(out) != 1 || out[0]["slug"] != "readme" {
		t.Fatalf("unexpected docs: %+v", out)
	}
}

func TestListDocsFallsBackOnFormulaRejection(t *testing.T) {
	var calls []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		formula := r.URL.Query().Get("filterByFormula")
		calls = append(calls, formula)
		if formula != "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":{"type":"INVALID_FILTER_BY_FORMULA","message":"The formula for filtering records is invalid"}}`))
			return
		}
		writeRecords(w, "",
			Record{ID: "rec1", Fields: Fields{"project": "mainframe", "slug": "readme"}},
			Record{ID: "rec2", Fields: Fields{"project": "other", "slug": "notes"}},
			Record{ID: "rec3", Fields: Fields{"project": "mainframe", "slug": "design"}},
		)
	})
	docs := NewDocs(client, "Docs", NewChoiceCache(), nil)

	out, err := docs.ListDocs(context.Background(), "mainframe")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected filtered then unfiltered call, got %v", calls)
	}
	if calls[1] != "" {
		t.Fatalf("fallback call must be unfiltered, got %q", calls[1])
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 mainframe docs after fallback, got %d", len(out))
	}
	for _, doc := range out {
		if doc["project"] != "mainframe" {
			t.Fatalf("fallback let through %+v", doc)
		}
	}
}

func TestListDocsPropagatesNonFormulaErrors(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	})
	docs := NewDocs(client, "Docs", NewChoiceCache(), nil)

	_, err := docs.ListDocs(context.Background(), "mainframe")
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("non-formula errors must not trigger the fallback scan, got %d calls", calls)
	}
}

func TestReadDocReturnsNilWhenAbsent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeRecords(w, "")
	})
	docs := NewDocs(client, "Docs", NewChoiceCache(), nil)

	record, err := docs.ReadDoc(context.Background(), "mainframe", "missing")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil for absent doc, got %+v", record)
	}
}

func TestWriteDocCreatesThenUpdates(t *testing.T) {
	var stored *Record
	var lastMethod string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/meta/") {
			_ = json.NewEncoder(w).Encode(map[string]any{"tables": []TableSchema{}})
			return
		}
		switch r.Method {
		case http.MethodGet:
			if stored == nil {
				writeRecords(w, "")
				return
			}
			writeRecords(w, "", *stored)
		case http.MethodPost:
			lastMethod = r.Method
			var body struct {
				Records []struct {
					Fields Fields `json:"fields"`
				} `json:"records"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			stored = &Record{ID: "rec_new", Fields: body.Records[0].Fields}
			writeRecords(w, "", *stored)
		case http.MethodPatch:
			lastMethod = r.Method
			var body struct {
				Records []RecordUpdate `json:"records"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Records[0].ID != "rec_new" {
				t.Fatalf("patch targeted %q, want rec_new", body.Records[0].ID)
			}
			stored = &Record{ID: body.Records[0].ID, Fields: body.Records[0].Fields}
			writeRecords(w, "", *stored)
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	})
	docs := NewDocs(client, "Docs", NewChoiceCache(), nil)

	first, err := docs.WriteDoc(context.Background(), WriteDocRequest{
		Project: "mainframe", Slug: "readme", Doctype: "md", Status: "draft", Content: "hello",
	})
	if err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if first.Action != "created" || lastMethod != http.MethodPost {
		t.Fatalf("expected create, got action=%s method=%s", first.Action, lastMethod)
	}
	if first.ID != "rec_new" {
		t.Fatalf("expected created id, got %q", first.ID)
	}

	second, err := docs.WriteDoc(context.Background(), WriteDocRequest{
		Project: "mainframe", Slug: "readme", Doctype: "md", Status: "ready", Content: "hello again",
	})
	if err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if second.Action != "updated" || lastMethod != http.MethodPatch {
		t.Fatalf("expected update, got action=%s method=%s", second.Action, lastMethod)
	}
	if stored.Fields["content"] != "hello again" {
		t.Fatalf("update did not apply fields: %+v", stored.Fields)
	}
}

func TestWriteDocCoercesChoiceCasingThroughResolver(t *testing.T) {
	schema := TableSchema{
		ID:   "tblDocs",
		Name: "Docs",
		Fields: []FieldSchema{
			{ID: "fldDoctype", Name: "doctype", Type: "singleSelect", Options: &FieldOptions{
				Choices: []Choice{{Name: "md"}, {Name: "txt"}, {Name: "json"}},
			}},
			{ID: "fldStatus", Name: "status", Type: "singleSelect", Options: &FieldOptions{
				Choices: []Choice{{Name: "draft"}, {Name: "ready"}, {Name: "approved"}},
			}},
		},
	}
	var capturedFields Fields
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/meta/") {
			_ = json.NewEncoder(w).Encode(map[string]any{"tables": []TableSchema{schema}})
			return
		}
		if r.Method == http.MethodGet {
			writeRecords(w, "")
			return
		}
		var body struct {
			Records []struct {
				Fields Fields `json:"fields"`
			} `json:"records"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		capturedFields = body.Records[0].Fields
		writeRecords(w, "", Record{ID: "rec1", Fields: capturedFields})
	})
	docs := NewDocs(client, "Docs", NewChoiceCache(), nil)

	result, err := docs.WriteDoc(context.Background(), WriteDocRequest{
		Project: "mainframe", Slug: "readme", Doctype: "MD", Status: "DRAFT", Content: "hello",
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if capturedFields["doctype"] != "md" || capturedFields["status"] != "draft" {
		t.Fatalf("persisted body not coerced to canonical labels: %+v", capturedFields)
	}
	if result.Fields["doctype"] != "md" || result.Fields["status"] != "draft" {
		t.Fatalf("result fields not coerced: %+v", result.Fields)
	}
}

func TestWriteDocOmitsEmptyName(t *testing.T) {
	var capturedFields Fields
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/meta/") {
			_ = json.NewEncoder(w).Encode(map[string]any{"tables": []TableSchema{}})
			return
		}
		if r.Method == http.MethodGet {
			writeRecords(w, "")
			return
		}
		var body struct {
			Records []struct {
				Fields Fields `json:"fields"`
			} `json:"records"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		capturedFields = body.Records[0].Fields
		writeRecords(w, "", Record{ID: "rec1", Fields: capturedFields})
	})
	docs := NewDocs(client, "Docs", NewChoiceCache(), nil)

	_, err := docs.WriteDoc(context.Background(), WriteDocRequest{
		Project: "mainframe", Slug: "readme", Doctype: "md", Status: "draft",
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, present := capturedFields["name"]; present {
		t.Fatalf("empty name must be omitted, got %+v", capturedFields)
	}
}

func TestListApprovedDocsFallbackMatchesAnyCasing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filterByFormula") != "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":{"type":"INVALID_FILTER_BY_FORMULA"}}`))
			return
		}
		writeRecords(w, "",
			Record{ID: "rec1", Fields: Fields{"project": "mainframe", "slug": "a", "status": "APPROVED"}},
			Record{ID: "rec2", Fields: Fields{"project": "mainframe", "slug": "b", "status": "Draft"}},
			Record{ID: "rec3", Fields: Fields{"project": "other", "slug": "c", "status": "Approved"}},
		)
	})
	docs := NewDocs(client, "Docs", NewChoiceCache(), nil)

	all, err := docs.ListApprovedDocs(context.Background(), "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 approved docs, got %d", len(all))
	}

	scoped, err := docs.ListApprovedDocs(context.Background(), "mainframe")
	if err != nil {
		t.Fatalf("scoped list failed: %v", err)
	}
	if len(scoped) != 1 || scoped[0]["slug"] != "a" {
		t.Fatalf("expected only mainframe approved doc, got %+v", scoped)
	}
}

func TestListProjectsUsesSource(t *testing.T) {
	docs := NewDocs(nil, "Docs", NewChoiceCache(), staticProjects{"mainframe", "skunkworks"})
	projects := docs.ListProjects()
	if len(projects) != 2 || projects[0] != "mainframe" {
		t.Fatalf("unexpected projects: %v", projects)
	}

	empty := NewDocs(nil, "Docs", NewChoiceCache(), nil)
	if got := empty.ListProjects(); got != nil {
		t.Fatalf("expected nil without a source, got %v", got)
	}
}
