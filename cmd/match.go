package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/embedmatch/internal/dataset"
	"github.com/spigell/embedmatch/internal/matching"
)

const (
	PromptMatchesByJob  = "Browse matches by job"
	PromptFailureReport = "Show failure report"
	PromptStats         = "Show run stats"
	PromptResultsToFile = "Dump results to file"
	PromptExit          = "Exit"
	PromptBack          = "back"
)

var errExit = errors.New("exit requested")

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Rank candidates against jobs",
	Run: func(cmd *cobra.Command, _ []string) {
		runMatch(cmd)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("jobs", "", "file with jobs (yaml or json list of {ref, text})")
	matchCmd.Flags().String("candidates", "", "file with candidates (yaml or json list of {ref, text})")
	matchCmd.Flags().StringP("output", "o", "json", "output format: json or yaml")
	matchCmd.Flags().String("out-file", "", "write the result to a file instead of stdout")
	matchCmd.Flags().BoolP("interactive", "i", false, "browse the result interactively")

	matchCmd.MarkFlagRequired("jobs")
	matchCmd.MarkFlagRequired("candidates")
}

func runMatch(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the embedmatch", zap.String("version", version), zap.String("backend", cfg.Backend))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(cfg, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	jobs, err := loadItems(cmd.Flag("jobs").Value.String())
	if err != nil {
		logger.Fatal("loading jobs", zap.Error(err))
	}
	candidates, err := loadItems(cmd.Flag("candidates").Value.String())
	if err != nil {
		logger.Fatal("loading candidates", zap.Error(err))
	}

	reg, err := newRegistry(cfg)
	if err != nil {
		logger.Fatal("preparing backends", zap.Error(err))
	}

	result, err := matching.Run(ctx, reg, nil, jobs, candidates, cfg, logger)
	if err != nil {
		logger.Fatal("matching failed", zap.Error(err))
	}

	if cmd.Flag("interactive").Value.String() == "true" {
		if err := browse(result, logger); err != nil && !errors.Is(err, errExit) {
			logger.Fatal("interactive mode", zap.Error(err))
		}
		return
	}

	if err := writeResult(result, cmd.Flag("output").Value.String(), cmd.Flag("out-file").Value.String()); err != nil {
		logger.Fatal("writing result", zap.Error(err))
	}
}

func loadItems(path string) ([]matching.Item, error) {
	records, err := dataset.Load(path)
	if err != nil {
		return nil, err
	}
	return toItems(records), nil
}

func toItems(records []dataset.Record) []matching.Item {
	items := make([]matching.Item, len(records))
	for i, r := range records {
		items[i] = matching.Item{Ref: r.Ref, Text: r.Text}
	}
	return items
}

func writeResult(result *matching.Result, format, path string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	return result.Write(w, format)
}

func browse(result *matching.Result, logger *zap.Logger) error {
	prompt := promptui.Select{
		Label: "What next?",
		Items: []string{PromptMatchesByJob, PromptFailureReport, PromptStats, PromptResultsToFile, PromptExit},
	}

	for {
		_, action, err := prompt.Run()
		if err != nil {
			return err
		}
		if err := handleAction(action, result, logger); err != nil {
			return err
		}
	}
}

func handleAction(action string, result *matching.Result, logger *zap.Logger) error {
	switch action {
	case PromptMatchesByJob:
		return browseJobs(result, logger)
	case PromptFailureReport:
		pretty, _ := json.MarshalIndent(result.FailureReport(), "", "  ")
		logger.Info(string(pretty), zap.Int("failures count", len(result.Failures)))
		return nil
	case PromptStats:
		pretty, _ := json.MarshalIndent(result.Stats, "", "  ")
		logger.Info(string(pretty), zap.String("run_id", result.RunID))
		return nil
	case PromptResultsToFile:
		filename, err := result.DumpToTmpFile()
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		logger.Info("dumping result to file", zap.String("filename", filename))
		return nil
	case PromptExit:
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func browseJobs(result *matching.Result, logger *zap.Logger) error {
	grouped := result.ByJob()
	jobs := make([]string, 0, len(grouped))
	for ref := range grouped {
		jobs = append(jobs, ref)
	}
	sort.Strings(jobs)

	jobPrompt := promptui.Select{
		Label: "Choose a job and press ENTER",
		Items: append(jobs, PromptBack),
	}

	for {

		_, selected, err := jobPrompt.Run()
		if err != nil {
			return err
		}
		if selected == PromptBack {
			return nil
		}

		for _, p := range grouped[selected] {
			logger.Info("match",
				zap.String("job_ref", p.JobRef),
				zap.String("candidate_ref", p.CandidateRef),
				zap.Int("rank", p.Rank),
				zap.Float64("score", p.Score),
			)
		}
	}
}
