package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentworkforce/docgate/internal/airtable"
	"github.com/agentworkforce/docgate/internal/config"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check store credentials and connectivity",
	Long: `Diagnose verifies the configured API key against the store in two
steps: the metadata API (table listing) and the data API (reading one
record from the docs table). Exits 2 when the metadata check fails and 3
when the data check fails.`,
	Args: cobra.NoArgs,
	RunE: runDiagnose,
}

// diagnoseConfig resolves store settings with env overrides on top of the
// config file, so the command can probe credentials before they are
// committed to config. With a full set of env values the file may be
// absent entirely.
func diagnoseConfig() (config.Airtable, error) {
	v := viper.New()
	_ = v.BindEnv("api_key", "AIRTABLE_PAT")
	_ = v.BindEnv("base_id", "AIRTABLE_BASE")
	_ = v.BindEnv("table", "AIRTABLE_TABLE")

	store, err := config.LoadAirtable(filepath.Join(configDir, "airtable.json"))
	if err != nil {
		if v.GetString("api_key") == "" || v.GetString("base_id") == "" {
			return config.Airtable{}, err
		}
		store = config.Airtable{}
	}
	if s := v.GetString("api_key"); s != "" {
		store.APIKey = s
	}
	if s := v.GetString("base_id"); s != "" {
		store.BaseID = s
	}
	if s := v.GetString("table"); s != "" {
		store.Tables = config.Tables{Docs: s}
	}
	return store, nil
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	store, err := diagnoseConfig()
	if err != nil {
		return fmt.Errorf("load airtable config: %w", err)
	}

	fmt.Printf("base:  %s\n", store.BaseID)
	fmt.Printf("table: %s\n", store.Tables.Ref())
	fmt.Printf("key:   %s\n", maskKey(store.APIKey))

	client := airtable.NewClient(airtable.ClientOptions{
		APIKey: store.APIKey,
		BaseID: store.BaseID,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tables, err := client.ListTables(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "metadata API check failed: %v\n", err)
		var apiErr *airtable.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Status {
			case 403:
				fmt.Fprintln(os.Stderr, "hint: the token likely lacks the schema.bases:read scope, or has no access to this base")
			case 404:
				fmt.Fprintln(os.Stderr, "hint: base_id not found; copy it from the base URL (it starts with 'app')")
			}
		}
		os.Exit(2)
	}
	fmt.Printf("metadata API ok: %d tables visible\n", len(tables))

	records, err := client.ListRecords(ctx, store.Tables.Ref(), airtable.ListQuery{MaxRecords: 1})
	if err != nil {
		fmt.Fprintf(os.Stderr, "data API check failed: %v\n", err)
		os.Exit(3)
	}
	fmt.Printf("data API ok: read %d record(s) from %s\n", len(records), store.Tables.Ref())
	return nil
}

// maskKey keeps enough of the token to identify it without exposing it.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
