package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/meridianlabs/valuation-engine/internal/storage"
)

func newShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show [document-id]",
		Short: "Show stored documents, or the extracted metrics for one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			driver := cfg.Database.Driver
			if driver == "sqlite" {
				driver = "sqlite3"
			}
			db, err := storage.Open(driver, cfg.DatabaseDSN())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if len(args) == 0 {
				return listDocuments(cmd.Context(), db)
			}
			return showMetrics(cmd.Context(), db, args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw metrics JSON")
	return cmd
}

func listDocuments(ctx context.Context, db storage.DB) error {
	docs, err := storage.NewDocumentRepository(db).List(ctx, 100, 0)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No documents stored.")
		return nil
	}

	header := color.New(color.FgCyan, color.Bold)
	header.Printf("%-38s %-30s %6s %-16s %s\n", "ID", "FILENAME", "PAGES", "TIER", "CREATED")
	for _, doc := range docs {
		fmt.Printf("%-38s %-30s %6d %-16s %s\n",
			doc.ID, doc.Filename, doc.PageCount, doc.ParseTier,
			doc.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func showMetrics(ctx context.Context, db storage.DB, idArg string, asJSON bool) error {
	id, err := uuid.Parse(idArg)
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}

	metrics, err := storage.NewMetricsRepository(db).GetLatestByDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no metrics stored for document %s", id)
	}
	if err != nil {
		return err
	}

	if asJSON {
		fmt.Println(string(metrics.Metrics))
		return nil
	}

	var pretty map[string]any
	if err := json.Unmarshal(metrics.Metrics, &pretty); err != nil {
		return fmt.Errorf("decode stored metrics: %w", err)
	}
	formatted, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}

	header := color.New(color.FgCyan, color.Bold)
	header.Printf("Document %s\n", metrics.DocumentID)
	fmt.Printf("confidence: %d%%  policy: %s\n\n", metrics.Confidence, metrics.MergePolicy)
	fmt.Println(string(formatted))

	if len(metrics.Issues) > 0 {
		var issues []string
		if err := json.Unmarshal(metrics.Issues, &issues); err == nil && len(issues) > 0 {
			warn := color.New(color.FgYellow)
			fmt.Println()
			for _, issue := range issues {
				warn.Printf("- %s\n", issue)
			}
		}
	}
	return nil
}
