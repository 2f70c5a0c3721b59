package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deepresearch/backend/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored research runs",
	RunE:  runListRuns,
}

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Print the stored report of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowReport,
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	runsCmd.Flags().Bool("json", false, "output runs as JSON")
	reportCmd.Flags().String("format", formatMarkdown, "report format: markdown, json or yaml")

	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(reportCmd)
}

func openStore(ctx context.Context) (store.Store, func(), error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return store.Store{}, nil, err
	}
	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return store.Store{}, nil, err
	}
	return store.NewStore(database), func() { _ = database.Close() }, nil
}

func runListRuns(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	runs, closeStore, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()
	return listRuns(cmd.Context(), runs, cmd.OutOrStdout(), limit, asJSON)
}

func listRuns(ctx context.Context, runs store.Store, w io.Writer, limit int, asJSON bool) error {
	items, err := runs.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if asJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(items)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPHASE\tCREATED\tQUESTION")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.ID, item.Phase, item.CreatedAt, shorten(item.Question, 60))
	}
	return tw.Flush()
}

func runShowReport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}

	runs, closeStore, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()
	return showReport(cmd.Context(), runs, cmd.OutOrStdout(), args[0], format)
}

func showReport(ctx context.Context, runs store.Store, w io.Writer, runID, format string) error {
	stored, err := runs.GetReport(ctx, runID)
	if err != nil {
		return fmt.Errorf("report %s: %w", runID, err)
	}
	if format == formatMarkdown && stored.Markdown != "" {
		_, err := io.WriteString(w, stored.Markdown)
		return err
	}
	data, err := renderReport(stored.Report, format)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func shorten(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit-1]) + "…"
}
