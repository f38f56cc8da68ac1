package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aluiziolira/go-scrape-cinemateca/models"
	"github.com/aluiziolira/go-scrape-cinemateca/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type pendingOptions struct {
	format string
	db     string
	id     string
}

var pendingOpts pendingOptions

var pendingCmd = &cobra.Command{
	Use:   "pending [--format table|json] [--id <id>]",
	Short: "Lists scraped showings that have no enrichment record yet.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db") {
			cfg.DBFile = pendingOpts.db
		}

		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.DBFile)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		var movies []*models.ScrapedMovie
		if pendingOpts.id != "" {
			movie, err := st.Get(ctx, pendingOpts.id)
			if err != nil {
				return err
			}
			movies = []*models.ScrapedMovie{movie}
		} else {
			movies, err = st.FindUnenriched(ctx)
			if err != nil {
				return err
			}
		}

		switch pendingOpts.format {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if movies == nil {
				movies = []*models.ScrapedMovie{}
			}
			return enc.Encode(movies)
		case "table":
			printPending(movies)
			return nil
		default:
			return fmt.Errorf("unsupported format: %s", pendingOpts.format)
		}
	},
}

func init() {
	flags := pendingCmd.Flags()
	flags.StringVar(&pendingOpts.format, "format", "table", "Output format: table or json")
	flags.StringVar(&pendingOpts.db, "db", "", "SQLite database file")
	flags.StringVar(&pendingOpts.id, "id", "", "Show a single scraped showing by id")
	rootCmd.AddCommand(pendingCmd)
}

func printPending(movies []*models.ScrapedMovie) {
	t := newTable()
	t.AppendHeader(table.Row{"ID", "Event", "When", "Start", "End", "Scraped at"})
	for _, m := range movies {
		t.AppendRow(table.Row{m.ID, m.EventName, m.When, m.StartTime, m.EndTime, m.ScrapedAt.Local().Format("2006-01-02 15:04")})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(movies)})
	t.Render()
}
