package config

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/mapfeed/mapfeed-indexer/common"
	postsconfig "github.com/mapfeed/mapfeed-indexer/modules/posts/config"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger/slogx"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	parseOnce sync.Once
	config    = &Config{
		Logger: logger.Config{
			Output: "text",
		},
		Network: common.NetworkMainnet,
		BitcoinNode: BitcoinNodeClient{
			User: "user",
			Pass: "pass",
		},
		HTTPServer: HTTPServer{
			Port: 8080,
		},
		Modules: Modules{
			Posts: postsconfig.Config{
				Database:         "postgres",
				Datasource:       "bitcoin-node",
				StartBlockHeight: -1,
			},
		},
	}
)

type Config struct {
	Logger        logger.Config     `mapstructure:"logger"`
	Network       common.Network    `mapstructure:"network"`
	BitcoinNode   BitcoinNodeClient `mapstructure:"bitcoin_node"`
	HTTPServer    HTTPServer        `mapstructure:"http_server"`
	APIOnly       bool              `mapstructure:"api_only"`
	EnableModules []string          `mapstructure:"enable_modules"`
	Modules       Modules           `mapstructure:"modules"`
}

type BitcoinNodeClient struct {
	Host       string `mapstructure:"host"`
	User       string `mapstructure:"user"`
	Pass       string `mapstructure:"pass"`
	DisableTLS bool   `mapstructure:"disable_tls"`
}

type HTTPServer struct {
	Port int `mapstructure:"port"`
}

type Modules struct {
	Posts postsconfig.Config `mapstructure:"posts"`
}

// Parse reads the configuration from the given file (or ./config.yaml when
// empty), overlaid with environment variables and bound flags.
func Parse(configFile string) Config {
	ctx := logger.WithContext(context.Background(), slog.String("package", "config"))
	parseOnce.Do(func() {
		if configFile != "" {
			viper.SetConfigFile(configFile)
		} else {
			viper.AddConfigPath("./")
			viper.SetConfigName("config")
		}

		viper.AutomaticEnv()
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		if err := viper.ReadInConfig(); err != nil {
			var errNotFound viper.ConfigFileNotFoundError
			if errors.As(err, &errNotFound) {
				logger.WarnContext(ctx, "Config file not found, using default values", slogx.Error(err))
			} else {
				logger.PanicContext(ctx, "Invalid config file", slogx.Error(err))
			}
		}

		if err := viper.Unmarshal(&config); err != nil {
			logger.PanicContext(ctx, "Failed to unmarshal config", slogx.Error(err))
		}
	})

	return *config
}

// Load returns the parsed configuration.
func Load() Config {
	return Parse("")
}

// BindPFlag binds a command-line flag to a configuration key.
func BindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		logger.Panic("Failed to bind flag to config key", slogx.String("key", key), slogx.Error(err))
	}
}
