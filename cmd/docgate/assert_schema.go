package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/docgate/internal/airtable"
	"github.com/agentworkforce/docgate/internal/config"
)

var assertSchemaCmd = &cobra.Command{
	Use:   "assert-schema",
	Short: "Verify the docs table matches the expected layout",
	Long: `Assert-schema fetches the docs table schema and checks the fields the
gateway depends on: slug, project, name (single line text), doctype and
status (single selects with the expected options), content (long text),
and slug as the primary field. Exits 2 when any check fails.`,
	Args: cobra.NoArgs,
	RunE: runAssertSchema,
}

func runAssertSchema(cmd *cobra.Command, args []string) error {
	store, err := config.LoadAirtable(filepath.Join(configDir, "airtable.json"))
	if err != nil {
		return fmt.Errorf("load airtable config: %w", err)
	}

	client := airtable.NewClient(airtable.ClientOptions{
		APIKey: store.APIKey,
		BaseID: store.BaseID,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tables, err := client.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}

	ref := store.Tables.Ref()
	var table *airtable.TableSchema
	for i := range tables {
		if tables[i].ID == ref || tables[i].Name == ref {
			table = &tables[i]
			break
		}
	}
	if table == nil {
		fmt.Fprintf(os.Stderr, "table %q not found in base %s\n", ref, store.BaseID)
		os.Exit(2)
	}

	problems := checkDocsSchema(table)
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, "schema: "+p)
		}
		os.Exit(2)
	}
	fmt.Printf("schema ok: table %s (%s)\n", table.Name, table.ID)
	return nil
}

func checkDocsSchema(table *airtable.TableSchema) []string {
	var problems []string

	fields := map[string]airtable.FieldSchema{}
	for _, f := range table.Fields {
		fields[strings.ToLower(f.Name)] = f
	}

	for _, name := range []string{"slug", "project", "name"} {
		f, ok := fields[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing field %q", name))
			continue
		}
		if f.Type != "singleLineText" {
			problems = append(problems, fmt.Sprintf("field %q has type %s, want singleLineText", name, f.Type))
		}
	}

	problems = append(problems, checkSelectField(fields, "doctype", []string{"md", "txt", "json"})...)
	problems = append(problems, checkSelectField(fields, "status", []string{"draft", "ready", "approved"})...)

	if f, ok := fields["content"]; !ok {
		problems = append(problems, `missing field "content"`)
	} else if f.Type != "multilineText" {
		problems = append(problems, fmt.Sprintf("field %q has type %s, want multilineText", "content", f.Type))
	}

	if slug, ok := fields["slug"]; ok && table.PrimaryFieldID != "" && table.PrimaryFieldID != slug.ID {
		problems = append(problems, "primary field must be slug")
	}

	return problems
}

// checkSelectField verifies a single select carries at least the wanted
// options, compared case-insensitively.
func checkSelectField(fields map[string]airtable.FieldSchema, name string, want []string) []string {
	f, ok := fields[name]
	if !ok {
		return []string{fmt.Sprintf("missing field %q", name)}
	}
	if f.Type != "singleSelect" {
		return []string{fmt.Sprintf("field %q has type %s, want singleSelect", name, f.Type)}
	}

	have := map[string]bool{}
	if f.Options != nil {
		for _, choice := range f.Options.Choices {
			have[strings.ToLower(choice.Name)] = true
		}
	}
	var problems []string
	for _, opt := range want {
		if !have[opt] {
			problems = append(problems, fmt.Sprintf("field %q is missing option %q", name, opt))
		}
	}
	return problems
}
