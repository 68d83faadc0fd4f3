package airtable

import (
	"context"
	"strings"
)

// Fields is one record's field map as returned to RPC callers.
type Fields = map[string]any

// ProjectSource yields the known project slugs.
type ProjectSource interface {
	Projects() []string
}

// Docs implements the document operations over the store client. Document
// identity is the (project, slug) pair; the store does not enforce it, so
// Docs enforces it operationally with a find-before-write.
type Docs struct {
	client   *Client
	table    string
	resolver *ChoiceResolver
	projects ProjectSource
}

func NewDocs(client *Client, table string, cache *ChoiceCache, projects ProjectSource) *Docs {
	return &Docs{
		client:   client,
		table:    table,
		resolver: NewChoiceResolver(client, table, cache),
		projects: projects,
	}
}

func escapeFormulaString(v string) string {
	return strings.ReplaceAll(v, "'", `\'`)
}

func formulaByProject(project string) string {
	return "{project}='" + escapeFormulaString(project) + "'"
}

func formulaByProjectAndSlug(project, slug string) string {
	return "AND({project}='" + escapeFormulaString(project) + "', {slug}='" + escapeFormulaString(slug) + "')"
}

const approvedStatusFormula = "LOWER({status})='approved'"

func formulaApproved(project string) string {
	if project == "" {
		return approvedStatusFormula
	}
	return "AND(" + formulaByProject(project) + ", " + approvedStatusFormula + ")"
}

// listWithFallback runs the filtered, paginated query; when the store
// rejects the formula itself, it scans the whole table and applies match
// in-process. The fallback trades a full scan for correctness on the
// formula dialect's casing and quoting edge cases, which cannot be fully
// validated client-side. Any non-formula error propagates untouched.
func (d *Docs) listWithFallback(ctx context.Context, formula string, maxRecords int, match func(Fields) bool) ([]Record, error) {
	records, err := d.client.ListRecords(ctx, d.table, ListQuery{Formula: formula, MaxRecords: maxRecords})
	if err == nil {
		return records, nil
	}
	if !IsFormulaParseError(err) {
		return nil, err
	}
	all, scanErr := d.client.ListRecords(ctx, d.table, ListQuery{})
	if scanErr != nil {
		return nil, scanErr
	}
	var out []Record
	for _, record := range all {
		if !match(record.Fields) {
			continue
		}
		out = append(out, record)
		if maxRecords > 0 && len(out) >= maxRecords {
			break
		}
	}
	return out, nil
}

func fieldString(fields Fields, key string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}

// ListProjects returns the configured project slugs.
func (d *Docs) ListProjects() []string {
	if d.projects == nil {
		return nil
	}
	return d.projects.Projects()
}

// ListDocs returns the field maps of every document in a project.
func (d *Docs) ListDocs(ctx context.Context, project string) ([]Fields, error) {
	records, err := d.listWithFallback(ctx, formulaByProject(project), 0, func(fields Fields) bool {
		return fieldString(fields, "project") == project
	})
	if err != nil {
		return nil, err
	}
	out := make([]Fields, 0, len(records))
	for _, record := range records {
		out = append(out, record.Fields)
	}
	return out, nil
}

// ReadDoc returns the record for (project, slug), or nil when absent.
func (d *Docs) ReadDoc(ctx context.Context, project, slug string) (*Record, error) {
	records, err := d.listWithFallback(ctx, formulaByProjectAndSlug(project, slug), 1, func(fields Fields) bool {
		return fieldString(fields, "project") == project && fieldString(fields, "slug") == slug
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	record := records[0]
	return &record, nil
}

type WriteDocRequest struct {
	Project string
	Slug    string
	Name    string
	Doctype string
	Status  string
	Content string
}

type WriteResult struct {
	Action string `json:"action"`
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
}

// WriteDoc upserts a document: find by (project, slug), patch when found,
// create otherwise. The read and the write are two store calls with no
// transaction between them, so two concurrent writers for the same
// identity can both observe "not found" and create duplicate records.
// Callers needing stronger guarantees must serialize writes externally.
func (d *Docs) WriteDoc(ctx context.Context, req WriteDocRequest) (WriteResult, error) {
	status, err := d.resolver.Resolve(ctx, "status", req.Status)
	if err != nil {
		return WriteResult{}, err
	}
	doctype, err := d.resolver.Resolve(ctx, "doctype", req.Doctype)
	if err != nil {
		return WriteResult{}, err
	}

	fields := Fields{
		"project": req.Project,
		"slug":    req.Slug,
		"doctype": doctype,
		"status":  status,
		"content": req.Content,
	}
	if req.Name != "" {
		fields["name"] = req.Name
	}

	existing, err := d.ReadDoc(ctx, req.Project, req.Slug)
	if err != nil {
		return WriteResult{}, err
	}

	if existing != nil {
		updated, err := d.client.UpdateRecords(ctx, d.table, []RecordUpdate{{ID: existing.ID, Fields: fields}})
		if err != nil {
			return WriteResult{}, err
		}
		id := existing.ID
		if len(updated) > 0 && updated[0].ID != "" {
			id = updated[0].ID
		}
		return WriteResult{Action: "updated", ID: id, Fields: fields}, nil
	}

	created, err := d.client.CreateRecords(ctx, d.table, []Fields{fields})
	if err != nil {
		return WriteResult{}, err
	}
	id := ""
	if len(created) > 0 {
		id = created[0].ID
	}
	return WriteResult{Action: "created", ID: id, Fields: fields}, nil
}

// ListApprovedDocs returns every document whose status equals "approved"
// under any casing, optionally restricted to one project.
func (d *Docs) ListApprovedDocs(ctx context.Context, project string) ([]Fields, error) {
	records, err := d.listWithFallback(ctx, formulaApproved(project), 0, func(fields Fields) bool {
		if project != "" && fieldString(fields, "project") != project {
			return false
		}
		return strings.ToLower(fieldString(fields, "status")) == "approved"
	})
	if err != nil {
		return nil, err
	}
	out := make([]Fields, 0, len(records))
	for _, record := range records {
		out = append(out, record.Fields)
	}
	return out, nil
}
