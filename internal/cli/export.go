package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/store"
)

var (
	exportFormat string
	exportDays   int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the audit trail",
	Long: `Export audit trail entries in CSV or JSON format.

Examples:
  tuneloop export --format csv > audit.csv
  tuneloop export --format json --days 90 > audit.json`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	exportCmd.Flags().IntVarP(&exportDays, "days", "d", 30, "look-back window in days")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(s *store.SQLiteStore) error {
		since := time.Now().UTC().AddDate(0, 0, -exportDays)

		entries, err := s.ListAuditEntries(context.Background(), since)
		if err != nil {
			return fmt.Errorf("failed to list audit entries: %w", err)
		}

		if exportFormat == "csv" {
			return exportCSV(entries)
		}
		return exportJSON(entries)
	})
}

func exportCSV(entries []*store.AuditEntry) error {
	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	// Write header
	if err := w.Write([]string{"timestamp", "proposal_id", "category", "parameter", "outcome", "confidence", "reason"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Write rows
	for _, e := range entries {
		row := []string{
			strconv.FormatInt(e.CreatedAt.Unix(), 10),
			e.ProposalID,
			e.Category,
			e.Parameter,
			e.Outcome,
			strconv.FormatFloat(e.Confidence, 'f', 4, 64),
			e.Reason,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	return nil
}

type jsonExport struct {
	Entries []jsonEntry `json:"entries"`
}

type jsonEntry struct {
	Timestamp  int64   `json:"timestamp"`
	ProposalID string  `json:"proposal_id"`
	Category   string  `json:"category"`
	Parameter  string  `json:"parameter"`
	Outcome    string  `json:"outcome"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func exportJSON(entries []*store.AuditEntry) error {
	export := jsonExport{
		Entries: make([]jsonEntry, len(entries)),
	}

	for i, e := range entries {
		export.Entries[i] = jsonEntry{
			Timestamp:  e.CreatedAt.Unix(),
			ProposalID: e.ProposalID,
			Category:   e.Category,
			Parameter:  e.Parameter,
			Outcome:    e.Outcome,
			Confidence: e.Confidence,
			Reason:     e.Reason,
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
