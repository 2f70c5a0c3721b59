package main

import (
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deepresearch/backend/internal/app"
	"deepresearch/backend/internal/logging"
	"deepresearch/backend/internal/research"
)

var runCmd = &cobra.Command{
	Use:   "run <question>",
	Short: "Research a question and print the cited report",
	Long: `Run plans the question, searches and reads pages for up to the configured
number of iterations and writes the report to stdout or --out. Progress goes
to stderr.

With --interactive the run stops before browsing and before each further
iteration and asks for a decision on stdin. Pass --db to keep the run and its
report for the runs and report commands.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	runCmd.Flags().Bool("interactive", false, "ask on stdin before browsing pages and before each further iteration")
	runCmd.Flags().String("format", formatMarkdown, "report format: markdown, json or yaml")
	runCmd.Flags().StringP("out", "o", "", "write the report to this file instead of stdout")
	runCmd.Flags().Bool("quiet", false, "do not print progress")
	runCmd.Flags().String("provider", "", "text generation provider (openrouter, openai)")
	runCmd.Flags().String("model", "", "model id passed to the provider")
	runCmd.Flags().String("engines", "", "comma-separated search engines (brave, duckduckgo)")
	runCmd.Flags().Int("max-iterations", 0, "upper bound on research iterations")
	runCmd.Flags().Int("max-pages", 0, "pages read per iteration")

	for _, name := range []string{"provider", "model", "engines", "max-iterations", "max-pages"} {
		_ = viper.BindPFlag(name, runCmd.Flags().Lookup(name))
	}
	rootCmd.AddCommand(runCmd)
}

func runResearch(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is required")
	}
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}
	interactive, _ := cmd.Flags().GetBool("interactive")
	outPath, _ := cmd.Flags().GetString("out")
	quiet, _ := cmd.Flags().GetBool("quiet")

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{FilePath: cfg.LogFile, Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var database *sql.DB
	if strings.TrimSpace(viper.GetString("db")) != "" {
		database, err = openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer database.Close()
	}

	services, err := app.New(ctx, cfg, database, logger)
	if err != nil {
		return err
	}

	var opts app.RunOptions
	if interactive {
		on := true
		opts.RequireBrowseApproval = &on
		opts.RequireContinueApproval = &on
	}

	progress := newProgressPrinter(cmd.ErrOrStderr(), quiet)
	prompter := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())

	var run *app.Run
	run = services.NewRun(opts, func(_ string, eventType string, payload any) {
		progress.handle(eventType, payload)
		request, ok := payload.(research.ApprovalRequest)
		if eventType != app.EventWaiting || !ok {
			return
		}
		go func() {
			decision, err := prompter.ask(request)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "no decision (%v), stopping\n", err)
				run.Stop()
				return
			}
			if err := run.Respond(decision); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "decision rejected: %v\n", err)
			}
		}()
	})

	report, err := run.Execute(ctx, question)
	if err != nil {
		return err
	}
	if database != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "saved as run %s\n", run.ID())
	}

	data, err := renderReport(report, format)
	if err != nil {
		return err
	}
	return writeOutput(outPath, data, cmd.OutOrStdout())
}
