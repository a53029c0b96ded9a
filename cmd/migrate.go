package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/noteforge/noteforge/internal/config"
)

// currentSchemaVersion is bumped whenever the on-disk shape of the
// processed-event log or settings overlay changes in a way old readers
// can't tolerate.
const currentSchemaVersion = 1

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade on-disk processed-event log and settings overlay files to the current schema",
		Run: func(cmd *cobra.Command, args []string) {
			runMigrate()
		},
	}
}

func runMigrate() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: load config: %s\n", err)
		os.Exit(1)
	}

	targets := []string{
		filepath.Join(cfg.DataDir, "processed.json"),
		filepath.Join(cfg.DataDir, "user_settings_overrides.json"),
		filepath.Join(cfg.DataDir, "bindings.json"),
	}

	for _, path := range targets {
		if err := migrateFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %s: %s\n", path, err)
			os.Exit(1)
		}
	}
}

// migrateFile stamps path's document with schema_version if absent
// (pre-versioning files) and leaves already-current files untouched. A
// missing file is not an error — it will be created fresh at the current
// version on first write by its owning store.
func migrateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("  %s: not present, nothing to migrate\n", path)
			return nil
		}
		return fmt.Errorf("read: %w", err)
	}
	if len(data) == 0 {
		fmt.Printf("  %s: empty, nothing to migrate\n", path)
		return nil
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	version, _ := doc["schema_version"].(float64)
	if int(version) >= currentSchemaVersion {
		fmt.Printf("  %s: already at schema v%d\n", path, currentSchemaVersion)
		return nil
	}

	doc["schema_version"] = currentSchemaVersion
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	fmt.Printf("  %s: migrated v%d -> v%d\n", path, int(version), currentSchemaVersion)
	return nil
}
