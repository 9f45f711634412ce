package cmd

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/embedmatch/internal/backends"
	"github.com/spigell/embedmatch/internal/config"
	"github.com/spigell/embedmatch/internal/embedding"
	"github.com/spigell/embedmatch/internal/logger"
)

const (
	app = "embedmatch"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "embedmatch ranks candidates against jobs by embedding similarity",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is embedmatch.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("backend", "", "embedding backend to use (overrides the config)")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		// The default config file is optional; an explicit one is not.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func newLogger() *zap.Logger {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	return l
}

func getConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

func newRegistry(cfg config.Config) (*embedding.Registry, error) {
	reg, err := backends.NewRegistry(cfg.Backends.Enabled...)
	if err != nil {
		return nil, fmt.Errorf("registering backends: %w", err)
	}
	return reg, nil
}

// newProvider creates the configured backend.
func newProvider(cfg config.Config, logger *zap.Logger) (embedding.Provider, error) {
	reg, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.ProviderOptions(logger)
	if err != nil {
		return nil, err
	}
	return reg.Create(cfg.Backend, opts)
}
