// Package config loads the store credentials, table identifiers, and
// server settings that the rest of docgate treats as opaque inputs.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/viper"
)

//go:embed airtable.schema.json
var airtableSchema []byte

const airtableSchemaName = "airtable.schema.json"

type Tables struct {
	Docs   string
	DocsID string
}

// Ref prefers the table ID when available: renaming a table in the store
// breaks name-addressed requests, ID-addressed ones keep working.
func (t Tables) Ref() string {
	if strings.TrimSpace(t.DocsID) != "" {
		return strings.TrimSpace(t.DocsID)
	}
	if strings.TrimSpace(t.Docs) != "" {
		return strings.TrimSpace(t.Docs)
	}
	return "Docs"
}

type Airtable struct {
	APIKey string
	BaseID string
	Tables Tables
}

// LoadAirtable reads and validates the store credentials file. The file is
// checked against an embedded JSON Schema before decoding so a config that
// parses but is shaped wrong fails at startup with the offending pointer,
// not at the first store call.
func LoadAirtable(path string) (Airtable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Airtable{}, fmt.Errorf("read store config: %w", err)
	}
	if err := validateAirtable(raw); err != nil {
		return Airtable{}, fmt.Errorf("store config %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return Airtable{}, fmt.Errorf("decode store config: %w", err)
	}
	cfg := Airtable{
		APIKey: v.GetString("api_key"),
		BaseID: v.GetString("base_id"),
		Tables: Tables{
			Docs:   v.GetString("tables.docs"),
			DocsID: v.GetString("tables.docs_id"),
		},
	}
	return cfg, nil
}

func validateAirtable(raw []byte) error {
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(airtableSchema))
	if err != nil {
		return fmt.Errorf("parse embedded schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(airtableSchemaName, schemaDoc); err != nil {
		return fmt.Errorf("register embedded schema: %w", err)
	}
	schema, err := compiler.Compile(airtableSchemaName)
	if err != nil {
		return fmt.Errorf("compile embedded schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	return nil
}
