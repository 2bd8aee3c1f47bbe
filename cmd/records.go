package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/shiftnoise/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage saved mechanisms",
	Long: `Manage solved mechanisms in the record store, including listing, showing
and cleaning old records. Records can be sampled with the sample command.`,
}

var listRecordsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved records",
	Long:  `Display all records with their configuration, objective, iterations, timestamp and size on disk.`,
	RunE:  runListRecords,
}

var showRecordCmd = &cobra.Command{
	Use:   "show <record>",
	Short: "Print a record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRecord,
}

var deleteRecordCmd = &cobra.Command{
	Use:   "delete <record>...",
	Short: "Delete records and their traces",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDeleteRecords,
}

var cleanRecordsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old records",
	Long: `Delete old records based on retention policy.
You can specify how many records to keep or delete records older than N days.`,
	RunE: runCleanRecords,
}

func init() {
	rootCmd.AddCommand(recordsCmd)

	recordsCmd.AddCommand(listRecordsCmd)
	recordsCmd.AddCommand(showRecordCmd)
	recordsCmd.AddCommand(deleteRecordCmd)
	recordsCmd.AddCommand(cleanRecordsCmd)

	cleanRecordsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N records (0 = keep all)")
	cleanRecordsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete records older than N days (0 = no age limit)")
	cleanRecordsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openRecords() (*store.FSStore, error) {
	records, err := store.NewFSStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create record store: %w", err)
	}
	return records, nil
}

func runListRecords(cmd *cobra.Command, args []string) error {
	records, err := openRecords()
	if err != nil {
		return err
	}

	infos, err := records.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No records found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODE\tN\tXMAX\tC\tOBJECTIVE\tITERATIONS\tTIMESTAMP\tSIZE")
	fmt.Fprintln(w, "----\t----\t-\t----\t-\t---------\t----------\t---------\t----")

	for _, info := range infos {
		size, err := getDirSize(filepath.Join(records.BaseDir(), "records", info.Name))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%g\t%g\t%.10g\t%d\t%s\t%s\n",
			info.Name,
			info.Mode,
			info.Quantization,
			info.XMax,
			info.CostBound,
			info.PrimalObjective,
			info.Iterations,
			info.Timestamp.Format("2006-01-02 15:04:05"),
			sizeStr,
		)
	}

	w.Flush()

	fmt.Fprintf(out, "\nTotal records: %d\n", len(infos))
	return nil
}

func runShowRecord(cmd *cobra.Command, args []string) error {
	records, err := openRecords()
	if err != nil {
		return err
	}
	rec, err := records.LoadRecord(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func runDeleteRecords(cmd *cobra.Command, args []string) error {
	records, err := openRecords()
	if err != nil {
		return err
	}
	for _, name := range args {
		if err := records.DeleteRecord(name); err != nil {
			return err
		}
		slog.Info("Deleted record", "name", name)
	}
	return nil
}

func runCleanRecords(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	records, err := openRecords()
	if err != nil {
		return err
	}

	infos, err := records.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No records to clean.")
		return nil
	}

	toDelete := selectRecordsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No records match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d record(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s)\n", info.Name, info.Timestamp.Format("2006-01-02 15:04:05"))
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Fscanln(cmd.InOrStdin(), &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := records.DeleteRecord(info.Name); err != nil {
			slog.Error("Failed to delete record", "name", info.Name, "error", err)
			failed++
		} else {
			slog.Info("Deleted record", "name", info.Name)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d record(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRecordsForDeletion applies the retention policy. A record is selected
// if it is older than olderThanDays or falls outside the keepLast newest ones.
// The result is ordered oldest first.
func selectRecordsForDeletion(infos []store.RecordInfo, keepLast, olderThanDays int, now time.Time) []store.RecordInfo {
	sorted := make([]store.RecordInfo, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	cutoff := now.AddDate(0, 0, -olderThanDays)
	excess := 0
	if keepLast > 0 && len(sorted) > keepLast {
		excess = len(sorted) - keepLast
	}

	var toDelete []store.RecordInfo
	for i, info := range sorted {
		if i < excess || (olderThanDays > 0 && info.Timestamp.Before(cutoff)) {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
