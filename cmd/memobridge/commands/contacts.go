package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/memobridge/pkg/memobridge/contacts"
)

// newContactsCmd groups offline contact-store maintenance.
func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Inspect and maintain a user's contact stores",
	}
	cmd.AddCommand(
		newContactsListCmd(),
		newContactsImportCmd(),
		newContactsMigrateCmd(),
	)
	return cmd
}

func newContactsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <uid>",
		Short: "Print the synced directory and saved contacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid := args[0]
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			directory := contacts.NewService(cfg.SessionsDir(), logger)
			if err := directory.Load(uid); err != nil {
				return err
			}
			saved := contacts.NewSavedStore(cfg.SessionsDir(), logger)

			recs := directory.Get(uid)
			fmt.Printf("Directory (%d):\n", len(recs))
			for _, rec := range recs {
				lid := rec.LID
				if lid == "" {
					lid = "-"
				}
				fmt.Printf("  %-20s %-25s lid=%s\n", rec.ID, rec.DisplayName(), lid)
			}

			savedList := saved.Get(uid)
			fmt.Printf("Saved (%d):\n", len(savedList))
			for _, sc := range savedList {
				fmt.Printf("  %-20s %-25s %s\n", sc.ID, sc.Name, sc.Source)
			}
			return nil
		},
	}
}

func newContactsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <uid> <file.json>",
		Short: "Bulk-import name/phone pairs from a JSON file",
		Long: `Imports a JSON array of {"name": ..., "phone": ...} objects into the saved
contact store. Manually saved names are never overwritten.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, path := args[0], args[1]
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			var entries []contacts.ImportEntry
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}

			saved := contacts.NewSavedStore(cfg.SessionsDir(), logger)
			res, err := saved.BulkImport(uid, entries)
			if err != nil {
				return err
			}
			fmt.Printf("imported=%d skipped=%d invalid=%d manual_preserved=%d\n",
				res.Upserted, res.Skipped, res.Invalid, res.ManualPreserved)
			return nil
		},
	}
}

func newContactsMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <uid>",
		Short: "Migrate a legacy flat contacts file to the current format",
		Long: `Rewrites an old-format contacts.json (a flat id-to-record map) into the
current layout with an explicit linked-id mapping table. The original file is
kept next to it with a .bak suffix. Safe to run twice.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid := args[0]
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			directory := contacts.NewService(cfg.SessionsDir(), logger)
			migrated, err := contacts.MigrateLegacyFile(directory.FilePath(uid), logger)
			if err != nil {
				return err
			}
			if !migrated {
				fmt.Println("already in the current format, nothing to do")
				return nil
			}
			fmt.Println("migrated, backup kept with .bak suffix")
			return nil
		},
	}
}
