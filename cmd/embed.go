package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spigell/embedmatch/internal/dataset"
)

type embedOutput struct {
	BackendID  string          `json:"backend_id" yaml:"backend_id"`
	Dimensions int             `json:"dimensions" yaml:"dimensions"`
	Embeddings []embeddedInput `json:"embeddings" yaml:"embeddings"`
}

type embeddedInput struct {
	Ref    string    `json:"ref" yaml:"ref"`
	Vector []float32 `json:"vector" yaml:"vector,flow"`
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed texts with the configured backend and print the vectors",
	Run: func(cmd *cobra.Command, _ []string) {
		runEmbed(cmd)
	},
}

func init() {
	rootCmd.AddCommand(embedCmd)

	embedCmd.Flags().String("input", "", "file with texts (yaml or json list of {ref, text})")
	embedCmd.MarkFlagRequired("input")
}

func runEmbed(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	records, err := dataset.Load(cmd.Flag("input").Value.String())
	if err != nil {
		logger.Fatal("loading input", zap.Error(err))
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		logger.Fatal("creating embedder", zap.Error(err))
	}

	vectors, err := provider.EmbedBatch(ctx, dataset.Texts(records))
	if err != nil {
		logger.Fatal("embedding texts", zap.Error(err), zap.String("backend_id", provider.ID()))
	}

	out := embedOutput{BackendID: provider.ID(), Dimensions: provider.Dimensions()}
	for i, r := range records {
		out.Embeddings = append(out.Embeddings, embeddedInput{Ref: r.Ref, Vector: vectors[i]})
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		logger.Fatal("writing vectors", zap.Error(err))
	}
	enc.Close()

	logger.Info("embedded texts", zap.Int("count", len(records)), zap.String("backend_id", provider.ID()))
}
