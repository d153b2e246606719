package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mapfeed/mapfeed-indexer/internal/config"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger/slogx"
)

var rootCmd = &cobra.Command{
	Use:  "mapfeed",
	Long: "Mapfeed indexer: decodes on-chain key/value posts and votes into PostgreSQL",
}

func init() {
	var configFile string

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file, E.g. `./config.yaml`")
	flags.String("network", "mainnet", "network to connect to, E.g. `mainnet` or `testnet`")

	config.BindPFlag("network", flags.Lookup("network"))

	cobra.OnInitialize(func() {
		conf := config.Parse(configFile)

		if err := logger.Init(conf.Logger); err != nil {
			logger.Panic("Failed to initialize logger", slogx.Error(err), slog.Any("config", conf.Logger))
		}
	})
}

func Execute(ctx context.Context) {
	rootCmd.AddCommand(
		NewRunCommand(),
		NewVersionCommand(),
		NewMigrateCommand(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Panic("Failed to execute root command", slogx.Error(err))
	}
}
