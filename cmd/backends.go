package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the registered embedding backends",
	Run: func(_ *cobra.Command, _ []string) {
		logger := newLogger()

		cfg, err := getConfig()
		if err != nil {
			logger.Fatal("getting a config", zap.Error(err))
		}

		reg, err := newRegistry(cfg)
		if err != nil {
			logger.Fatal("preparing backends", zap.Error(err))
		}

		for _, name := range reg.Names() {
			marker := " "
			if name == cfg.Backend {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
