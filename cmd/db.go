package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/scadrift/pkg/storage"
)

var dbPath string

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the scadrift findings database",
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints per-type counts of the current findings.",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Parent().PersistentFlags().GetString("dbpath")
		if dbPath == "" {
			dbPath = "scadrift.sqlite"
		}

		db, err := storage.Open(dbPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("database file not found: %s", dbPath)
			}
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(context.Background())
		if err != nil {
			return err
		}

		if len(stats) == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "FINDING TYPE\tCOUNT\t")

		total := 0
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t\n", s.Type, s.Count)
			total += s.Count
		}

		fmt.Fprintln(w, " \t \t")
		fmt.Fprintf(w, "TOTAL\t%d\t\n", total)

		w.Flush()

		return nil
	},
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List current findings, optionally filtered by type or repo key",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Parent().PersistentFlags().GetString("dbpath")
		findingType, _ := cmd.Flags().GetString("type")
		keyFilter, _ := cmd.Flags().GetString("key")
		if dbPath == "" {
			dbPath = "scadrift.sqlite"
		}
		if _, err := os.Stat(dbPath); err != nil {
			return fmt.Errorf("database not found: %s", dbPath)
		}

		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		findings, err := db.ListFindings(context.Background(), storage.ListOptions{Type: findingType, KeyFilter: keyFilter})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "REPO KEY\tTYPE\tDETAIL\tORG\t")
		for _, f := range findings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", f.RepoKey, f.Type, f.Detail, f.OrgID)
		}
		w.Flush()

		return nil
	},
}

// changesCmd represents the changes command
var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Show recent drift changes (default 50)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dbPath, _ := cmd.Parent().PersistentFlags().GetString("dbpath")
		limit, _ := cmd.Flags().GetInt("limit")
		if dbPath == "" {
			dbPath = "scadrift.sqlite"
		}
		if _, err := os.Stat(dbPath); err != nil {
			return fmt.Errorf("database not found: %s", dbPath)
		}
		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		changes, err := db.ListRecentChanges(context.Background(), limit)
		if err != nil {
			return err
		}
		for _, c := range changes {
			ts := c.OccurredAt.Format("2006-01-02 15:04:05")
			fmt.Printf("%s  %-7s  %s  %s  %s\n", ts, c.ChangeType, c.Type, c.RepoKey, c.Detail)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(statsCmd)
	dbCmd.AddCommand(listCmd)
	dbCmd.AddCommand(changesCmd)
	dbCmd.PersistentFlags().StringVar(&dbPath, "dbpath", "scadrift.sqlite", "Path to SQLite DB file")

	listCmd.Flags().String("type", "all", "Filter by finding type (stale_target, untracked_repo, stale_file, untracked_file, duplicate_project, unresolvable_target)")
	listCmd.Flags().String("key", "", "Filter by repo key substring")
	changesCmd.Flags().Int("limit", 50, "Number of recent changes to show")
}
